package entity

import (
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

type ITaskContext interface {
	Clock() *clock.Clock
	Config() config.Config
}
