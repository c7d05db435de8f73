package sdkplay

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// Kind is the declared kind of a parameter. It selects the coercion path.
type Kind string

const (
	KindNumber   Kind = "number"
	KindString   Kind = "string"
	KindBoolean  Kind = "boolean"
	KindJSON     Kind = "json"
	KindFile     Kind = "file"
	KindFunction Kind = "function"
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{KindNumber, KindString, KindBoolean, KindJSON, KindFile, KindFunction}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNumber, KindString, KindBoolean, KindJSON, KindFile, KindFunction:
		return true
	}
	return false
}

// ParamDescriptor is one positional argument of an APIDescriptor.
type ParamDescriptor struct {
	Name         string `json:"name" yaml:"name" validate:"required" jsonschema:"required,description=Parameter name; also the key used to edit its value."`
	Type         Kind   `json:"type" yaml:"type" validate:"required,kind" jsonschema:"required,enum=number,enum=string,enum=boolean,enum=json,enum=file,enum=function"`
	DefaultValue any    `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty" jsonschema:"description=Raw default value used when the operator does not edit the parameter."`
}

// APIDescriptor identifies one invocable operation. Descriptors are immutable
// once loaded into a Catalog and are shared by every invocation.
type APIDescriptor struct {
	Name         string            `json:"name" yaml:"name" validate:"required" jsonschema:"required,description=SDK method name."`
	Instance     string            `json:"instance,omitempty" yaml:"instance,omitempty" jsonschema:"description=Instance tag selecting the live object; empty selects the default instance."`
	ReturnVar    string            `json:"returnVar,omitempty" yaml:"returnVar,omitempty" validate:"omitempty,varname" jsonschema:"description=Variable name the result is stored under."`
	ExternalView string            `json:"externalView,omitempty" yaml:"externalView,omitempty" jsonschema:"description=Out-of-band resource the operation needs (for example a file input)."`
	Params       []ParamDescriptor `json:"params,omitempty" yaml:"params,omitempty" validate:"omitempty,unique=Name,dive"`
	BestPractice string            `json:"bestPractice,omitempty" yaml:"bestPractice,omitempty" jsonschema:"description=Illustrative usage script. Never executed."`
	Provides     string            `json:"provides,omitempty" yaml:"provides,omitempty" validate:"omitempty,nefield=Instance" jsonschema:"description=Instance tag bound to the returned object on success."`
	Releases     string            `json:"releases,omitempty" yaml:"releases,omitempty" jsonschema:"description=Instance tag unbound on success."`

	// Area is the catalogue table the descriptor was loaded from.
	Area string `json:"-" yaml:"-"`
}

// Key returns the "area.name" lookup key of the descriptor.
func (d *APIDescriptor) Key() string {
	if d.Area == "" {
		return d.Name
	}
	return d.Area + "." + d.Name
}

// Param returns the parameter with the given name.
func (d *APIDescriptor) Param(name string) (ParamDescriptor, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamDescriptor{}, false
}

var identPattern = regexp.MustCompile(`^` + identExpr + `$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("kind", func(fl validator.FieldLevel) bool {
		return Kind(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("varname", func(fl validator.FieldLevel) bool {
		return identPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks the descriptor's structural invariants.
func (d *APIDescriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("descriptor %s: %w", d.Key(), err)
	}
	return nil
}

// DescriptorSchema returns the JSON Schema of a catalogue table (a list of
// descriptors), for editors and catalogue linting.
func DescriptorSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(&[]APIDescriptor{})
	s.Title = "sdkplay catalogue table"
	return s
}
