package bake

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/user/assetlink/internal/types"
)

const (
	DefaultObjectTemplate = "{bake}/{asset}/{asset}_{object}_{geo}_{part}_{split}"
	DefaultItemTemplate   = "{bake}/{asset}/{network}/{asset}_{network}_{node}_{item}_{part}_{split}"

	// DefaultSplit names the unsplit part of a geometry.
	DefaultSplit = "main"
)

// PathResolver expands bake path templates. Tokens are written as {name};
// every value except {bake} is sanitized into a single path component.
type PathResolver struct {
	Folder         string
	ObjectTemplate string
	ItemTemplate   string
	Ext            string
}

// NewPathResolver uses the default templates for empty arguments.
func NewPathResolver(folder, objectTemplate string) *PathResolver {
	if objectTemplate == "" {
		objectTemplate = DefaultObjectTemplate
	}
	return &PathResolver{
		Folder:         folder,
		ObjectTemplate: objectTemplate,
		ItemTemplate:   DefaultItemTemplate,
		Ext:            ".bin",
	}
}

// ObjectPath is the target for one output object.
func (r *PathResolver) ObjectPath(asset string, object, geo, part int, split string) (string, error) {
	return r.resolvePath(r.ObjectTemplate, map[string]string{
		"asset":  asset,
		"object": strconv.Itoa(object),
		"geo":    strconv.Itoa(geo),
		"part":   strconv.Itoa(part),
		"split":  splitOrDefault(split),
	})
}

// WorkItemPath is the target for one cooked work item.
func (r *PathResolver) WorkItemPath(asset, network, node string, item, part int, split string) (string, error) {
	return r.resolvePath(r.ItemTemplate, map[string]string{
		"asset":   asset,
		"network": network,
		"node":    node,
		"item":    strconv.Itoa(item),
		"part":    strconv.Itoa(part),
		"split":   splitOrDefault(split),
	})
}

func (r *PathResolver) resolvePath(template string, tokens map[string]string) (string, error) {
	for k, v := range tokens {
		tokens[k] = sanitize(v)
	}
	tokens["bake"] = r.Folder
	p, err := Resolve(template, tokens)
	if err != nil {
		return "", err
	}
	return filepath.Clean(p) + r.Ext, nil
}

// Resolve replaces every {token} in template. An unknown or unterminated
// token fails with ErrBake.
func Resolve(template string, tokens map[string]string) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated token in %q", types.ErrBake, template)
		}
		name := rest[open+1 : open+end]
		v, ok := tokens[name]
		if !ok {
			return "", fmt.Errorf("%w: unknown token {%s} in %q", types.ErrBake, name, template)
		}
		b.WriteString(rest[:open])
		b.WriteString(v)
		rest = rest[open+end+1:]
	}
}

func splitOrDefault(s string) string {
	if s == "" {
		return DefaultSplit
	}
	return s
}

func sanitize(s string) string {
	s = strings.Trim(s, "/")
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
