// Package outputs tracks what the last cooks of an asset instance produced
// and which of those objects have been baked.
package outputs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/user/assetlink/internal/types"
)

// Type is the kind of an output.
type Type string

const (
	Mesh      Type = "mesh"
	Instancer Type = "instancer"
	Landscape Type = "landscape"
	Curve     Type = "curve"
	Skeletal  Type = "skeletal"
	Invalid   Type = "invalid"
)

// ParseType maps an engine type name onto a Type. Unknown names are Invalid.
func ParseType(s string) Type {
	switch t := Type(strings.ToLower(s)); t {
	case Mesh, Instancer, Landscape, Curve, Skeletal:
		return t
	}
	return Invalid
}

// Identifier keys an object within one output.
type Identifier struct {
	ObjectID int    `json:"object_id"`
	GeoID    int    `json:"geo_id"`
	PartID   int    `json:"part_id"`
	Split    string `json:"split,omitempty"`
}

// String renders the identifier as "object/geo/part[/split]".
func (id Identifier) String() string {
	s := fmt.Sprintf("%d/%d/%d", id.ObjectID, id.GeoID, id.PartID)
	if id.Split != "" {
		s += "/" + id.Split
	}
	return s
}

// ParseIdentifier is the inverse of Identifier.String.
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.SplitN(s, "/", 4)
	if len(parts) < 3 {
		return Identifier{}, fmt.Errorf("%w: malformed identifier %q", types.ErrOutputNotFound, s)
	}
	var id Identifier
	var err error
	if id.ObjectID, err = strconv.Atoi(parts[0]); err != nil {
		return Identifier{}, fmt.Errorf("%w: malformed identifier %q", types.ErrOutputNotFound, s)
	}
	if id.GeoID, err = strconv.Atoi(parts[1]); err != nil {
		return Identifier{}, fmt.Errorf("%w: malformed identifier %q", types.ErrOutputNotFound, s)
	}
	if id.PartID, err = strconv.Atoi(parts[2]); err != nil {
		return Identifier{}, fmt.Errorf("%w: malformed identifier %q", types.ErrOutputNotFound, s)
	}
	if len(parts) == 4 {
		id.Split = parts[3]
	}
	return id, nil
}

// ArtifactRef points at the current representation of an object: a proxy
// artifact in the artifact store, a baked file, or both once baked.
type ArtifactRef struct {
	Artifact types.ArtifactID `json:"artifact,omitempty"`
	Path     string           `json:"path,omitempty"`
}

// Object is one generated object inside an output.
type Object struct {
	Identifier Identifier  `json:"identifier"`
	Name       string      `json:"name"`
	Ref        ArtifactRef `json:"ref"`
	Component  string      `json:"component"`
	Proxy      bool        `json:"proxy"`
}

// Output is one cooked output and its objects in engine order.
type Output struct {
	Index   int      `json:"index"`
	Type    Type     `json:"type"`
	Objects []Object `json:"objects"`
}

func (o Output) clone() Output {
	out := o
	out.Objects = make([]Object, len(o.Objects))
	copy(out.Objects, o.Objects)
	return out
}

func (o Output) find(id Identifier) int {
	for i, obj := range o.Objects {
		if obj.Identifier == id {
			return i
		}
	}
	return -1
}
