package lkd

import "fmt"

// Object is a typed handle on a single named bus object. Reads and writes go
// straight to the daemon; the handle never caches values.
type Object struct {
	client *Client
	id     string
}

// Object returns a handle on the bus object with the given id.
func (c *Client) Object(id string) *Object {
	return &Object{client: c, id: id}
}

// ID returns the object identifier.
func (o *Object) ID() string { return o.id }

// Bool reads the object as a boolean.
func (o *Object) Bool() (bool, error) {
	v, err := o.client.GetValue(o.id)
	if err != nil {
		return false, err
	}
	return AsBool(v)
}

// SetBool writes a boolean value.
func (o *Object) SetBool(value bool) error {
	return o.client.SetValue(o.id, value)
}

// Float reads the object as a float.
func (o *Object) Float() (float64, error) {
	v, err := o.client.GetValue(o.id)
	if err != nil {
		return 0, err
	}
	return AsFloat(v)
}

// SetFloat writes a float value.
func (o *Object) SetFloat(value float64) error {
	return o.client.SetValue(o.id, value)
}

// Int reads the object as an integer.
func (o *Object) Int() (int, error) {
	v, err := o.client.GetValue(o.id)
	if err != nil {
		return 0, err
	}
	return AsInt(v)
}

// SetInt writes an integer value.
func (o *Object) SetInt(value int) error {
	return o.client.SetValue(o.id, value)
}

// AsBool coerces a JSON-decoded bus value to a boolean.
func AsBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case float64:
		return val != 0, nil
	case string:
		switch val {
		case "true", "on", "1":
			return true, nil
		case "false", "off", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("value %v (%T) is not a boolean", v, v)
}

// AsFloat coerces a JSON-decoded bus value to a float.
func AsFloat(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("value %v (%T) is not a number", v, v)
}

// AsInt coerces a JSON-decoded bus value to an integer.
func AsInt(v any) (int, error) {
	f, err := AsFloat(v)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
