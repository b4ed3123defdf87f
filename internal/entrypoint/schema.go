package entrypoint

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"firestige.xyz/gltrace/internal/core"
	"firestige.xyz/gltrace/internal/ctype"
)

// schemaFile is the YAML layout of an external call schema:
//
//	enums:
//	  GL_ARRAY_BUFFER: 0x8892
//	calls:
//	  - name: glBindBuffer
//	    flags: [check_error, binds]
//	    params:
//	      - {name: target, type: GLenum}
//	      - {name: buffer, type: GLuint, namespace: buffers}
type schemaFile struct {
	Enums map[string]uint32 `yaml:"enums"`
	Calls []schemaCall      `yaml:"calls"`
}

type schemaCall struct {
	Name            string        `yaml:"name"`
	Action          string        `yaml:"action"`
	Flags           []string      `yaml:"flags"`
	Return          string        `yaml:"return"`
	ReturnNamespace string        `yaml:"return_namespace"`
	Params          []schemaParam `yaml:"params"`
}

type schemaParam struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Namespace string `yaml:"namespace"`
	Dir       string `yaml:"dir"`
	ArraySize string `yaml:"array_size"`
}

// LoadSchemaFile reads a YAML call schema from path.
func LoadSchemaFile(path string, ctypes *ctype.Registry) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file %s: %w", path, err)
	}
	defer f.Close()
	return LoadSchema(f, ctypes)
}

// LoadSchema parses a YAML call schema. Call ids are assigned in file order
// starting at 1, so a schema is only compatible with traces written against
// the same file.
func LoadSchema(r io.Reader, ctypes *ctype.Registry) (*Registry, error) {
	var sf schemaFile
	if err := yaml.NewDecoder(r).Decode(&sf); err != nil {
		return nil, fmt.Errorf("failed to parse call schema: %w", err)
	}
	if len(sf.Calls) == 0 {
		return nil, fmt.Errorf("call schema has no calls: %w", core.ErrSchemaInvalid)
	}

	descs := make([]Descriptor, 0, len(sf.Calls))
	for i, sc := range sf.Calls {
		d := Descriptor{ID: ID(i + 1), Name: sc.Name}

		action, ok := actionNames[sc.Action]
		if !ok {
			return nil, fmt.Errorf("call %q: unknown action %q: %w", sc.Name, sc.Action, core.ErrSchemaInvalid)
		}
		d.Action = action

		for _, name := range sc.Flags {
			f, ok := flagNames[name]
			if !ok {
				return nil, fmt.Errorf("call %q: unknown flag %q: %w", sc.Name, name, core.ErrSchemaInvalid)
			}
			d.Flags |= f
		}

		if sc.Return != "" {
			t := ctypes.ByName(sc.Return)
			if t == nil {
				return nil, fmt.Errorf("call %q: unknown return type %q: %w", sc.Name, sc.Return, core.ErrUnknownType)
			}
			d.Return = t.ID
		}
		if d.ReturnNamespace, ok = ParseNamespace(sc.ReturnNamespace); !ok {
			return nil, fmt.Errorf("call %q: unknown namespace %q: %w", sc.Name, sc.ReturnNamespace, core.ErrSchemaInvalid)
		}

		for _, sp := range sc.Params {
			t := ctypes.ByName(sp.Type)
			if t == nil {
				return nil, fmt.Errorf("call %q param %q: unknown type %q: %w", sc.Name, sp.Name, sp.Type, core.ErrUnknownType)
			}
			ns, ok := ParseNamespace(sp.Namespace)
			if !ok {
				return nil, fmt.Errorf("call %q param %q: unknown namespace %q: %w", sc.Name, sp.Name, sp.Namespace, core.ErrSchemaInvalid)
			}
			p := ParamDescriptor{Name: sp.Name, Type: t.ID, Namespace: ns, ArraySize: sp.ArraySize}
			switch sp.Dir {
			case "", "in":
			case "out":
				p.Dir = Out
			default:
				return nil, fmt.Errorf("call %q param %q: bad dir %q: %w", sc.Name, sp.Name, sp.Dir, core.ErrSchemaInvalid)
			}
			d.Params = append(d.Params, p)
		}
		descs = append(descs, d)
	}
	return NewRegistry(ctypes, descs, NewEnumTable(sf.Enums))
}
