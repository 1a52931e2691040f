package httpapi

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"ordersms/internal/service"
)

var errMalformedJSON = errors.New("invalid json")

var decimalType = reflect.TypeOf(decimal.Decimal{})

// bindJSON декодирует тело в dst. Поле неверного типа даёт ValidationError
// с его именем, тело, не являющееся JSON-объектом, даёт errMalformedJSON.
func bindJSON(c *gin.Context, dst any) error {
	err := c.ShouldBindBodyWithJSON(dst)
	if err == nil {
		return nil
	}
	if body, ok := c.Get(gin.BodyBytesKey); ok {
		if b, ok := body.([]byte); ok {
			if verr := typeErrors(b, dst); verr != nil {
				return verr
			}
		}
	}
	return errMalformedJSON
}

// typeErrors декодирует каждое поле объекта отдельно, чтобы назвать
// все поля с неверным значением. nil, если тело не JSON-объект.
func typeErrors(body []byte, dst any) *service.ValidationError {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}
	t := reflect.TypeOf(dst)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	fields := map[string]string{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		v, ok := raw[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, reflect.New(f.Type).Interface()); err != nil {
			fields[name] = invalidValue(f.Type)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &service.ValidationError{Fields: fields}
}

func invalidValue(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == decimalType:
		return "a valid number is required"
	case t.Kind() >= reflect.Int && t.Kind() <= reflect.Uint64:
		return "a valid integer is required"
	case t.Kind() == reflect.String:
		return "not a valid string"
	default:
		return "invalid value"
	}
}
