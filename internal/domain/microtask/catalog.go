package microtask

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// ClassPlaceholder подставляется названием пропущенного занятия.
const ClassPlaceholder = "{class}"

// Template - шаблон задачи одного вида.
type Template struct {
	Title            string `yaml:"title"`
	Description      string `yaml:"description"`
	EstimatedMinutes int    `yaml:"estimated_minutes"`
}

// Catalog - соответствие персон видам задач и шаблоны.
type Catalog struct {
	DefaultType Type              `yaml:"default_type"`
	Personas    map[Persona]Type  `yaml:"personas"`
	Templates   map[Type]Template `yaml:"templates"`
}

// LoadCatalog разбирает и проверяет каталог в YAML.
func LoadCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, shared.WrapError("microtask", "LoadCatalog", shared.ErrInvalidFormat, "cannot parse catalog", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultCatalog возвращает встроенный каталог.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded micro-task catalog is invalid: %v", err))
	}
	return c
}

// Validate проверяет, что все ссылки на виды задач известны и у каждого
// используемого вида есть шаблон с допустимой оценкой.
func (c *Catalog) Validate() error {
	if !c.DefaultType.IsValid() {
		return shared.WrapError("microtask", "LoadCatalog", shared.ErrInvalidInput, "default_type", shared.ErrUnknownTaskType)
	}
	used := []Type{c.DefaultType}
	for p, t := range c.Personas {
		if !t.IsValid() {
			return shared.WrapError("microtask", "LoadCatalog", shared.ErrInvalidInput, fmt.Sprintf("persona %q", p), shared.ErrUnknownTaskType)
		}
		used = append(used, t)
	}
	for t, tpl := range c.Templates {
		if !t.IsValid() {
			return shared.WrapError("microtask", "LoadCatalog", shared.ErrInvalidInput, fmt.Sprintf("template %q", t), shared.ErrUnknownTaskType)
		}
		if err := ValidateEstimate(tpl.EstimatedMinutes); err != nil {
			return shared.WrapError("microtask", "LoadCatalog", shared.ErrValueOutOfRange, fmt.Sprintf("template %q", t), err)
		}
	}
	for _, t := range used {
		if _, ok := c.Templates[t]; !ok {
			return shared.NewDomainError("microtask", "LoadCatalog", shared.ErrInvalidInput, fmt.Sprintf("no template for %q", t))
		}
	}
	return nil
}

// TypeFor возвращает вид задачи для персоны. Неизвестная персона
// получает вид по умолчанию.
func (c *Catalog) TypeFor(persona string) Type {
	if t, ok := c.Personas[NormalizePersona(persona)]; ok {
		return t
	}
	return c.DefaultType
}

// BuildParams - параметры задачи для пропущенного занятия.
type BuildParams struct {
	ID         string
	UserID     shared.UserID
	Persona    string
	ClassRef   string
	ClassTitle string
	Now        time.Time
	TTL        time.Duration
}

// Build создаёт задачу для пропущенного занятия по персоне пользователя.
func (c *Catalog) Build(p BuildParams) (*MicroTask, error) {
	typ := c.TypeFor(p.Persona)
	tpl := c.Templates[typ]

	class := strings.TrimSpace(p.ClassTitle)
	if class == "" {
		class = "the missed class"
	}
	return New(NewParams{
		ID:               p.ID,
		UserID:           p.UserID,
		RelatedClassID:   p.ClassRef,
		Type:             typ,
		Title:            strings.ReplaceAll(tpl.Title, ClassPlaceholder, class),
		Description:      strings.ReplaceAll(tpl.Description, ClassPlaceholder, class),
		EstimatedMinutes: tpl.EstimatedMinutes,
		CreatedAt:        p.Now,
		TTL:              p.TTL,
	})
}
