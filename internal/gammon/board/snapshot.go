package board

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/park285/gammon-analysis-bot/internal/gammon/matchlog"
)

// CheckersPerSide is the number of checkers each player owns.
const CheckersPerSide = 15

// Side holds one player's checkers keyed by absolute point.
// Evacuated points are deleted, never stored as zero.
type Side struct {
	Points map[int]int
	Bar    int
	Off    int
}

func (s Side) Total() int {
	n := s.Bar + s.Off
	for _, c := range s.Points {
		n += c
	}
	return n
}

func (s Side) clone() Side {
	out := Side{Points: make(map[int]int, len(s.Points)), Bar: s.Bar, Off: s.Off}
	for k, v := range s.Points {
		out.Points[k] = v
	}
	return out
}

func (s *Side) add(point, n int) {
	if s.Points == nil {
		s.Points = make(map[int]int)
	}
	s.Points[point] += n
	if s.Points[point] <= 0 {
		delete(s.Points, point)
	}
}

// MarshalJSON writes {"6":5,"8":3,...,"bar":1,"off":2}; bar and off are omitted at zero.
func (s Side) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, len(s.Points)+2)
	for k, v := range s.Points {
		m[strconv.Itoa(k)] = v
	}
	if s.Bar > 0 {
		m["bar"] = s.Bar
	}
	if s.Off > 0 {
		m["off"] = s.Off
	}
	return json.Marshal(m)
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var m map[string]int
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*s = Side{Points: make(map[int]int)}
	for k, v := range m {
		switch k {
		case "bar":
			s.Bar = v
		case "off":
			s.Off = v
		default:
			p, err := strconv.Atoi(k)
			if err != nil || p < 1 || p > 24 {
				return fmt.Errorf("invalid point key %q", k)
			}
			if v > 0 {
				s.Points[p] = v
			}
		}
	}
	return nil
}

// Snapshot is the absolute board. Sides are indexed by Player.Index().
type Snapshot struct {
	Variant matchlog.Variant `json:"-"`
	Sides   [2]Side          `json:"-"`
}

func (s Snapshot) Side(p matchlog.Player) Side {
	if i := p.Index(); i >= 0 {
		return s.Sides[i]
	}
	return Side{}
}

func (s Snapshot) Total(p matchlog.Player) int { return s.Side(p).Total() }

func (s Snapshot) Clone() Snapshot {
	return Snapshot{Variant: s.Variant, Sides: [2]Side{s.Sides[0].clone(), s.Sides[1].clone()}}
}

// Invert mirrors every point key of both sides. Bar and off stay put,
// so Invert(Invert(x)) == x.
func (s Snapshot) Invert() Snapshot {
	out := Snapshot{Variant: s.Variant}
	for i, side := range s.Sides {
		inv := Side{Points: make(map[int]int, len(side.Points)), Bar: side.Bar, Off: side.Off}
		for p, c := range side.Points {
			inv.Points[mirror(s.Variant, p)] = c
		}
		out.Sides[i] = inv
	}
	return out
}

// Equal compares two snapshots point by point.
func (s Snapshot) Equal(o Snapshot) bool {
	for i := range s.Sides {
		a, b := s.Sides[i], o.Sides[i]
		if a.Bar != b.Bar || a.Off != b.Off || len(a.Points) != len(b.Points) {
			return false
		}
		for k, v := range a.Points {
			if b.Points[k] != v {
				return false
			}
		}
	}
	return true
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]Side{
		matchlog.PlayerOne.String(): s.Sides[0],
		matchlog.PlayerTwo.String(): s.Sides[1],
	})
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var m map[string]Side
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	s.Sides[0] = m[matchlog.PlayerOne.String()]
	s.Sides[1] = m[matchlog.PlayerTwo.String()]
	return nil
}

// String renders a compact debug form, e.g. "p1[6:5 8:3 13:5 24:2] p2[...]".
func (s Snapshot) String() string {
	out := ""
	for i, side := range s.Sides {
		keys := make([]int, 0, len(side.Points))
		for k := range side.Points {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("p%d[", i+1)
		for j, k := range keys {
			if j > 0 {
				out += " "
			}
			out += fmt.Sprintf("%d:%d", k, side.Points[k])
		}
		out += fmt.Sprintf(" bar:%d off:%d]", side.Bar, side.Off)
	}
	return out
}

// mirror maps a point between the two players' numberings.
func mirror(v matchlog.Variant, p int) int {
	if v == matchlog.VariantLong {
		if p > 12 {
			return p - 12
		}
		return p + 12
	}
	return 25 - p
}

// Start returns the seeded starting position for the variant.
func Start(v matchlog.Variant) Snapshot {
	s := Snapshot{Variant: v}
	var layout map[int]int
	if v == matchlog.VariantLong {
		layout = map[int]int{24: 15}
	} else {
		layout = map[int]int{24: 2, 13: 5, 8: 3, 6: 5}
	}
	for i := range s.Sides {
		s.Sides[i] = Side{Points: make(map[int]int, len(layout))}
		p := matchlog.PlayerFromIndex(i)
		for rel, n := range layout {
			s.Sides[i].Points[toAbsolute(v, p, rel)] = n
		}
	}
	return s
}

// toAbsolute converts a point in the player's own numbering. Player two is mirrored.
func toAbsolute(v matchlog.Variant, p matchlog.Player, rel int) int {
	if p == matchlog.PlayerTwo {
		return mirror(v, rel)
	}
	return rel
}
