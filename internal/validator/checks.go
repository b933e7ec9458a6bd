package validator

import (
	"fmt"
	"regexp"
	"strconv"

	"flexilite/internal/catalog"
	"flexilite/internal/schema"
)

// checkType reports whether value, currently stored under oldType, can
// be interpreted as newType without loss. Type changes on spec.md §4.3's
// "maybe" edges reach this check, and Plan also falls back to it, with
// oldType == newType, for scan-requiring changes no narrower check covers.
func checkType(oldType, newType catalog.TypeCode, value any) error {
	if value == nil {
		return nil
	}
	switch newType {
	case catalog.Integer:
		switch v := value.(type) {
		case int64, int, int32:
			return nil
		case float64:
			if v == float64(int64(v)) {
				return nil
			}
			return fmt.Errorf("value %v is not an integer", v)
		case string:
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				return fmt.Errorf("value %q is not an integer", v)
			}
			return nil
		default:
			return fmt.Errorf("value of type %T cannot convert to integer", value)
		}
	case catalog.Number, catalog.Decimal:
		switch v := value.(type) {
		case int64, int, int32, float64:
			return nil
		case string:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return fmt.Errorf("value %q is not numeric", v)
			}
			return nil
		default:
			return fmt.Errorf("value of type %T cannot convert to number", value)
		}
	case catalog.Enum, catalog.Name, catalog.Text:
		switch value.(type) {
		case string:
			return nil
		default:
			return fmt.Errorf("value of type %T cannot convert to text", value)
		}
	case catalog.Reference:
		switch v := value.(type) {
		case int64, int:
			return nil
		case string:
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				return fmt.Errorf("value %q is not a valid object id", v)
			}
			return nil
		default:
			return fmt.Errorf("value of type %T cannot convert to reference", v)
		}
	default:
		return nil
	}
}

func checkLength(p *schema.PropertyDef, value any) error {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if p.MaxLength > 0 && len(s) > p.MaxLength {
		return fmt.Errorf("value length %d exceeds maxLength %d", len(s), p.MaxLength)
	}
	return nil
}

func checkRange(p *schema.PropertyDef, value any) error {
	f, ok := asFloat(value)
	if !ok {
		return nil
	}
	if p.MinValue != nil && f < *p.MinValue {
		return fmt.Errorf("value %v is below minValue %v", f, *p.MinValue)
	}
	if p.MaxValue != nil && f > *p.MaxValue {
		return fmt.Errorf("value %v is above maxValue %v", f, *p.MaxValue)
	}
	return nil
}

func checkRegexValue(p *schema.PropertyDef, value any) error {
	s, ok := value.(string)
	if !ok || p.Regex == "" {
		return nil
	}
	re, err := regexp.Compile(p.Regex)
	if err != nil {
		return fmt.Errorf("invalid regex %q: %w", p.Regex, err)
	}
	if !re.MatchString(s) {
		return fmt.Errorf("value %q does not match pattern %q", s, p.Regex)
	}
	return nil
}

func checkEnum(p *schema.PropertyDef, value any) error {
	s, ok := value.(string)
	if !ok || p.EnumDef == nil {
		return nil
	}
	for _, v := range p.EnumDef.Values {
		if v.Value == s {
			return nil
		}
	}
	return fmt.Errorf("value %q is not a member of enum %q", s, p.Name.Text)
}

func checkRef(p *schema.PropertyDef, value any) error {
	if _, ok := asFloat(value); !ok {
		if _, ok := value.(string); !ok {
			return fmt.Errorf("reference value of type %T is not an object id", value)
		}
	}
	return nil
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
