package preemption

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "preemption")
