package geo

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Business 对应后端商家列表中的一项。Distance 只在 nearest 排序时临时计算，不会持久化。
type Business struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Location Point    `json:"location"`
	Rating   Rating   `json:"rating"`
	Distance *float64 `json:"distance,omitempty"`

	// Extra 保留后端返回的其余字段，重新编码时原样输出。
	Extra map[string]json.RawMessage `json:"-"`
}

var businessKnownFields = []string{"id", "name", "location", "rating", "distance"}

// UnmarshalJSON 解析已知字段并保留其余字段；数字 id 会被转换为字符串。
func (b *Business) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Business
	if v, ok := raw["id"]; ok {
		out.ID = scalarString(v)
	}
	if v, ok := raw["name"]; ok {
		_ = json.Unmarshal(v, &out.Name)
	}
	if v, ok := raw["location"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &out.Location); err != nil {
			return err
		}
	}
	if v, ok := raw["rating"]; ok {
		out.Rating = Rating(append(json.RawMessage(nil), v...))
	}
	for _, key := range businessKnownFields {
		delete(raw, key)
	}
	if len(raw) > 0 {
		out.Extra = raw
	}
	*b = out
	return nil
}

// MarshalJSON 输出已知字段与 Extra 中保留的字段。
func (b Business) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(b.Extra)+5)
	for k, v := range b.Extra {
		out[k] = v
	}
	out["id"] = b.ID
	out["name"] = b.Name
	out["location"] = b.Location
	if len(b.Rating) > 0 {
		out["rating"] = json.RawMessage(b.Rating)
	} else {
		out["rating"] = nil
	}
	if b.Distance != nil {
		out["distance"] = *b.Distance
	}
	return json.Marshal(out)
}

// Rating 保留后端原始的评分值，数字或数字字符串都可能出现。
type Rating json.RawMessage

// NumberRating 从数字构造 Rating。
func NumberRating(v float64) Rating {
	return Rating(strconv.FormatFloat(v, 'f', -1, 64))
}

// StringRating 从字符串构造 Rating。
func StringRating(v string) Rating {
	raw, _ := json.Marshal(v)
	return Rating(raw)
}

// Value 返回可比较的评分；缺失、无法解析或为负时为 0。
func (r Rating) Value() float64 {
	v, ok := r.Parsed()
	if !ok || v < 0 {
		return 0
	}
	return v
}

// Parsed 返回解析出的原始数值，ok 为 false 表示评分缺失或无法解析。
func (r Rating) Parsed() (float64, bool) {
	raw := bytes.TrimSpace(r)
	if len(raw) == 0 || isNull(raw) {
		return 0, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		raw = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// MarshalJSON 原样输出；空值输出 null。
func (r Rating) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON 保存原始字节。
func (r *Rating) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

func (r Rating) String() string {
	return string(r)
}

func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if isNull(raw) {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// DecodeList 解析后端商家列表，兼容裸数组与 {"businesses":[...]} 两种形态。
func DecodeList(data []byte) ([]Business, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Businesses []Business `json:"businesses"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		return wrapped.Businesses, nil
	}
	var list []Business
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, err
	}
	return list, nil
}
