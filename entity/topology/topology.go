package topology

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

var (
	ErrNoPhases  = errors.New("program has no phases")
	ErrDuplicate = errors.New("duplicated intersection id")
)

// junction 单个路口的静态拓扑
type junction struct {
	id                string
	programID         string
	phases            []entity.Phase
	greens            []int       // 绿灯相位序号
	warningAfter      map[int]int // 绿灯相位->其后第一个黄灯相位
	greenAfterWarning map[int]int // 黄灯相位->其后第一个绿灯相位（跳过全红）
	links             []string    // 信号连接序号->受控车道
}

// Topology 路网信控拓扑
// 功能：保存所有路口的相位列表、相位类型、绿灯车道集合与过渡映射，加载后不再修改
type Topology struct {
	junctions         map[string]*junction
	ids               []string
	invalid           []string
	laneLength        map[string]float64
	defaultLaneLength float64
}

// New 创建空拓扑
// 参数：defaultLaneLength-未知车道的默认长度（米）
func New(defaultLaneLength float64) *Topology {
	return &Topology{
		junctions:         make(map[string]*junction),
		ids:               make([]string, 0),
		invalid:           make([]string, 0),
		laneLength:        make(map[string]float64),
		defaultLaneLength: defaultLaneLength,
	}
}

// Add 加入一个路口
// 功能：对信号程序的每个相位分类，计算绿灯车道集合，构建绿灯->黄灯->绿灯的过渡映射
// 参数：id-路口ID，logic-信号程序（取第一个），links-每个信号连接对应的受控车道
// 返回：程序没有相位时返回ErrNoPhases，该路口被记为无效
func (t *Topology) Add(id string, logic entity.ProgramLogic, links []string) error {
	if _, ok := t.junctions[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	if len(logic.Phases) == 0 {
		t.invalid = append(t.invalid, id)
		return fmt.Errorf("intersection %s: %w", id, ErrNoPhases)
	}
	j := &junction{
		id:                id,
		programID:         logic.ProgramID,
		phases:            make([]entity.Phase, len(logic.Phases)),
		greens:            make([]int, 0),
		warningAfter:      make(map[int]int),
		greenAfterWarning: make(map[int]int),
		links:             links,
	}
	for i, p := range logic.Phases {
		phase := entity.Phase{
			Index:    i,
			State:    p.State,
			Duration: p.Duration,
			Type:     Classify(p.State),
		}
		if phase.Type == entity.PhaseGreen {
			phase.Lanes = greenLanes(p.State, links)
			j.greens = append(j.greens, i)
		}
		j.phases[i] = phase
	}
	n := len(j.phases)
	next := func(from int, typ entity.PhaseType) (int, bool) {
		for offset := 1; offset < n; offset++ {
			if c := (from + offset) % n; j.phases[c].Type == typ {
				return c, true
			}
		}
		return -1, false
	}
	for _, g := range j.greens {
		w, ok := next(g, entity.PhaseWarning)
		if !ok {
			continue
		}
		j.warningAfter[g] = w
		if g2, ok := next(w, entity.PhaseGreen); ok {
			j.greenAfterWarning[w] = g2
		}
	}
	t.junctions[id] = j
	t.ids = append(t.ids, id)
	sort.Strings(t.ids)
	return nil
}

// greenLanes 绿灯相位放行的车道（按信号连接顺序去重）
func greenLanes(state string, links []string) []string {
	lanes := make([]string, 0)
	for i := 0; i < len(state) && i < len(links); i++ {
		if IsGreenChar(state[i]) && links[i] != "" {
			lanes = append(lanes, links[i])
		}
	}
	return lo.Uniq(lanes)
}

// SetLaneLength 记录车道长度
func (t *Topology) SetLaneLength(lane string, length float64) {
	t.laneLength[lane] = length
}

func (t *Topology) IDs() []string {
	return t.ids
}

// Invalid 加载失败（没有相位）的路口
func (t *Topology) Invalid() []string {
	return t.invalid
}

func (t *Topology) Has(id string) bool {
	_, ok := t.junctions[id]
	return ok
}

// Controllable 是否至少有一个绿灯相位
func (t *Topology) Controllable(id string) bool {
	j, ok := t.junctions[id]
	return ok && len(j.greens) > 0
}

func (t *Topology) Phases(id string) []entity.Phase {
	if j, ok := t.junctions[id]; ok {
		return j.phases
	}
	return nil
}

func (t *Topology) PhaseType(id string, index int) (entity.PhaseType, bool) {
	j, ok := t.junctions[id]
	if !ok || index < 0 || index >= len(j.phases) {
		return 0, false
	}
	return j.phases[index].Type, true
}

func (t *Topology) GreenPhases(id string) []int {
	if j, ok := t.junctions[id]; ok {
		return j.greens
	}
	return nil
}

func (t *Topology) GreenLanes(id string, phase int) []string {
	j, ok := t.junctions[id]
	if !ok || phase < 0 || phase >= len(j.phases) {
		return nil
	}
	return j.phases[phase].Lanes
}

// TransitionWarningAfter 绿灯相位之后的第一个黄灯相位
func (t *Topology) TransitionWarningAfter(id string, green int) (int, bool) {
	j, ok := t.junctions[id]
	if !ok {
		return -1, false
	}
	w, ok := j.warningAfter[green]
	return w, ok
}

// GreenAfterWarning 黄灯相位之后的下一个绿灯相位（跳过全红清空相位）
func (t *Topology) GreenAfterWarning(id string, warning int) (int, bool) {
	j, ok := t.junctions[id]
	if !ok {
		return -1, false
	}
	g, ok := j.greenAfterWarning[warning]
	return g, ok
}

func (t *Topology) HasMultipleGreenPhases(id string) bool {
	j, ok := t.junctions[id]
	return ok && len(j.greens) > 1
}

// ProgramID 加载时的信号程序ID
func (t *Topology) ProgramID(id string) string {
	if j, ok := t.junctions[id]; ok {
		return j.programID
	}
	return ""
}

// Lanes 路口所有受控车道（去重）
func (t *Topology) Lanes(id string) []string {
	j, ok := t.junctions[id]
	if !ok {
		return nil
	}
	return lo.Uniq(lo.Filter(j.links, func(l string, _ int) bool { return l != "" }))
}

// LaneLength 车道长度，未知车道返回默认长度
func (t *Topology) LaneLength(lane string) float64 {
	if l, ok := t.laneLength[lane]; ok {
		return l
	}
	return t.defaultLaneLength
}

// Debug 以Debug级别输出一个路口的拓扑
func (t *Topology) Debug(id string) {
	j, ok := t.junctions[id]
	if !ok {
		log.Debugf("intersection %s not mapped", id)
		return
	}
	log.Debugf("intersection %s: program=%s greens=%v multi=%v", id, j.programID, j.greens, len(j.greens) > 1)
	for _, p := range j.phases {
		log.Debugf("  phase %2d [%-9s] %s lanes=%v", p.Index, p.Type, p.State, p.Lanes)
	}
	for _, g := range j.greens {
		if w, ok := j.warningAfter[g]; ok {
			g2, ok := j.greenAfterWarning[w]
			if !ok {
				g2 = -1
			}
			log.Debugf("  green %d -> warning %d -> green %d", g, w, g2)
		}
	}
}
