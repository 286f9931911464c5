package geo

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Mode 是排序方式。
type Mode string

const (
	ModeNearest  Mode = "nearest"
	ModeCitywide Mode = "citywide"
)

// ErrLocationRequired 表示 nearest 排序缺少用户位置。
var ErrLocationRequired = errors.New("nearest sort requires a user location")

// ParseMode 解析排序方式，空字符串默认为 nearest。
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeNearest:
		return ModeNearest, nil
	case ModeCitywide:
		return ModeCitywide, nil
	default:
		return "", fmt.Errorf("unknown sort mode %q", raw)
	}
}

// SortNearest 返回按距离升序的新切片并附带 distance，原切片不变；距离相同保持原顺序。
func SortNearest(list []Business, user Point) []Business {
	out := make([]Business, len(list))
	for i, b := range list {
		d := Distance(user, b.Location)
		b.Distance = &d
		out[i] = b
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].Distance < *out[j].Distance
	})
	return out
}

// SortCitywide 返回按评分降序的新切片；负分按 0 计，缺失或无法解析的评分排在最后，相同评分保持原顺序。
func SortCitywide(list []Business) []Business {
	out := make([]Business, len(list))
	for i, b := range list {
		b.Distance = nil
		out[i] = b
	}
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := out[i].Rating.Value(), out[j].Rating.Value()
		if vi != vj {
			return vi > vj
		}
		// 同为 0 分时，可解析的评分排在缺失/无法解析的之前
		_, okI := out[i].Rating.Parsed()
		_, okJ := out[j].Rating.Parsed()
		return okI && !okJ
	})
	return out
}

// Sort 按 mode 排序；nearest 且 user 为 nil 时返回 ErrLocationRequired。
func Sort(list []Business, mode Mode, user *Point) ([]Business, error) {
	switch mode {
	case ModeNearest:
		if user == nil {
			return nil, ErrLocationRequired
		}
		return SortNearest(list, *user), nil
	case ModeCitywide:
		return SortCitywide(list), nil
	default:
		return nil, fmt.Errorf("unknown sort mode %q", mode)
	}
}

// View 保存原始未排序数据，每次切换排序方式或更新位置都从原始数据重新排序。
type View struct {
	mu       sync.RWMutex
	original []Business
	mode     Mode
	user     *Point
	sorted   []Business
	err      error
}

// NewView 创建视图，初始排序方式为 mode。
func NewView(list []Business, mode Mode) *View {
	v := &View{
		original: append([]Business(nil), list...),
		mode:     mode,
	}
	v.resort()
	return v
}

// SetData 替换原始数据并重新排序。
func (v *View) SetData(list []Business) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.original = append([]Business(nil), list...)
	return v.resort()
}

// SetMode 切换排序方式并重新排序。
func (v *View) SetMode(mode Mode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mode = mode
	return v.resort()
}

// SetLocation 更新用户位置并重新排序。
func (v *View) SetLocation(p Point) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.user = &p
	return v.resort()
}

// Sorted 返回当前排序结果的副本；若最近一次排序失败则返回该错误。
func (v *View) Sorted() ([]Business, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.err != nil {
		return nil, v.err
	}
	return append([]Business(nil), v.sorted...), nil
}

// Mode 返回当前排序方式。
func (v *View) Mode() Mode {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mode
}

func (v *View) resort() error {
	v.sorted, v.err = Sort(v.original, v.mode, v.user)
	return v.err
}
