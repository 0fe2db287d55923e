package jsengine

import (
	"github.com/dop251/goja"
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/script"
)

// dynObject adapts a Get/Set/Has closure triple to goja.DynamicObject,
// giving every flow-shaped value below a lowercase/snake_case property
// surface backed directly by the live *flow.* pointers,
// instead of goja's raw FieldNameMapper reflection over the Go-
// capitalized flow package identifiers.
type dynObject struct {
	keys []string
	get  func(key string) goja.Value
	set  func(key string, val goja.Value) bool
}

func (d *dynObject) Get(key string) goja.Value {
	if d.get == nil {
		return nil
	}
	return d.get(key)
}

func (d *dynObject) Set(key string, val goja.Value) bool {
	if d.set == nil {
		return false
	}
	return d.set(key, val)
}

func (d *dynObject) Has(key string) bool {
	for _, k := range d.keys {
		if k == key {
			return true
		}
	}
	return false
}

func (d *dynObject) Delete(key string) bool { return false }

func (d *dynObject) Keys() []string { return d.keys }

// bindHeaders exposes a *flow.Headers as a method object
// (get/get_all/set/append/delete/has/clear/insert/items). onWrite, if
// non-nil, fires after any mutating call — used by flow.response.* to
// drive lazy synthesis (script.ResponseBinding.MarkWritten).
func bindHeaders(vm *goja.Runtime, h *flow.Headers, onWrite func()) goja.Value {
	fire := func() {
		if onWrite != nil {
			onWrite()
		}
	}
	d := &dynObject{keys: []string{"get", "get_all", "set", "append", "delete", "has", "clear", "insert", "items"}}
	d.get = func(key string) goja.Value {
		switch key {
		case "get":
			return vm.ToValue(func(name string) goja.Value {
				v, ok := h.Get(name)
				if !ok {
					return goja.Undefined()
				}
				return vm.ToValue(v)
			})
		case "get_all":
			return vm.ToValue(func(name string) []string { return h.GetAll(name) })
		case "set":
			return vm.ToValue(func(name, value string) { h.Set(name, value); fire() })
		case "append":
			return vm.ToValue(func(name, value string) { h.Append(name, value); fire() })
		case "delete":
			return vm.ToValue(func(name string) { h.Delete(name); fire() })
		case "has":
			return vm.ToValue(func(name string) bool { return h.Has(name) })
		case "clear":
			return vm.ToValue(func() { h.Clear(); fire() })
		case "insert":
			return vm.ToValue(func(index int, name, value string) { h.Insert(index, name, value); fire() })
		case "items":
			return vm.ToValue(func(multi bool) []map[string]string {
				pairs := h.Items(multi)
				out := make([]map[string]string, len(pairs))
				for i, p := range pairs {
					out[i] = map[string]string{"name": p.Name, "value": p.Value}
				}
				return out
			})
		}
		return goja.Undefined()
	}
	return vm.NewDynamicObject(d)
}

// bindBody exposes a *flow.Body as text/raw/bytes/length/is_empty plus
// a clear() method, property-style so `body.text = "..."` works.
func bindBody(vm *goja.Runtime, b *flow.Body, onWrite func()) goja.Value {
	fire := func() {
		if onWrite != nil {
			onWrite()
		}
	}
	d := &dynObject{keys: []string{"text", "raw", "bytes", "length", "is_empty", "clear", "len", "isEmpty"}}
	d.get = func(key string) goja.Value {
		switch key {
		case "text":
			return vm.ToValue(b.Text())
		case "raw", "bytes":
			return vm.ToValue(append([]byte(nil), b.Bytes()...))
		case "length":
			return vm.ToValue(b.Length())
		case "is_empty":
			return vm.ToValue(b.IsEmpty())
		case "len":
			return vm.ToValue(b.Len())
		case "isEmpty":
			return vm.ToValue(func() bool { return b.IsEmptyFunc() })
		case "clear":
			return vm.ToValue(func() { b.Clear(); fire() })
		}
		return goja.Undefined()
	}
	d.set = func(key string, val goja.Value) bool {
		switch key {
		case "text":
			b.SetText(val.String())
			fire()
			return true
		case "raw", "bytes":
			if s, ok := val.Export().(string); ok {
				b.SetBytes([]byte(s))
				fire()
				return true
			}
			var raw []byte
			if err := vm.ExportTo(val, &raw); err == nil {
				b.SetBytes(raw)
			}
			fire()
			return true
		}
		return false
	}
	return vm.NewDynamicObject(d)
}

// bindURL exposes a *flow.URL as its component properties plus the
// search-param methods.
func bindURL(vm *goja.Runtime, u *flow.URL) goja.Value {
	keys := []string{
		"protocol", "username", "password", "hostname", "port", "path",
		"search_params", "authority", "host",
		"get_search_param", "set_search_param", "append_search_param", "delete_search_param",
		"toString",
	}
	d := &dynObject{keys: keys}
	d.get = func(key string) goja.Value {
		switch key {
		case "protocol":
			return vm.ToValue(u.Protocol())
		case "username":
			v, _ := u.Username()
			return vm.ToValue(v)
		case "password":
			v, _ := u.Password()
			return vm.ToValue(v)
		case "hostname":
			v, _ := u.Hostname()
			return vm.ToValue(v)
		case "port":
			v, _ := u.Port()
			return vm.ToValue(v)
		case "path":
			v, _ := u.Path()
			return vm.ToValue(v)
		case "search_params":
			params := u.SearchParams()
			out := make([]map[string]string, len(params))
			for i, p := range params {
				out[i] = map[string]string{"key": p.Key, "value": p.Value}
			}
			return vm.ToValue(out)
		case "authority":
			return vm.ToValue(u.Authority())
		case "host":
			return vm.ToValue(u.Host())
		case "get_search_param":
			return vm.ToValue(func(key string) goja.Value {
				v, ok := u.GetSearchParam(key)
				if !ok {
					return goja.Undefined()
				}
				return vm.ToValue(v)
			})
		case "set_search_param":
			return vm.ToValue(func(key, value string) { u.SetSearchParam(key, value) })
		case "append_search_param":
			return vm.ToValue(func(key, value string) { u.AppendSearchParam(key, value) })
		case "delete_search_param":
			return vm.ToValue(func(key string) { u.DeleteSearchParam(key) })
		case "toString":
			return vm.ToValue(func() string { return u.String() })
		}
		return goja.Undefined()
	}
	d.set = func(key string, val goja.Value) bool {
		switch key {
		case "protocol":
			u.SetProtocol(val.String())
			return true
		case "username":
			u.SetUsername(val.String())
			return true
		case "password":
			u.SetPassword(val.String())
			return true
		case "hostname":
			u.SetHostname(val.String())
			return true
		case "port":
			u.SetPort(val.String())
			return true
		case "path":
			u.SetPath(val.String())
			return true
		}
		return false
	}
	return vm.NewDynamicObject(d)
}

// bindRequest exposes a *flow.Request: method/url/version/headers/
// body/trailers.
func bindRequest(vm *goja.Runtime, req *flow.Request) goja.Value {
	keys := []string{"method", "url", "version", "headers", "body", "trailers"}
	d := &dynObject{keys: keys}
	d.get = func(key string) goja.Value {
		switch key {
		case "method":
			return vm.ToValue(string(req.Method))
		case "url":
			return bindURL(vm, req.URL)
		case "version":
			return vm.ToValue(string(req.Version))
		case "headers":
			return bindHeaders(vm, req.Headers, nil)
		case "body":
			return bindBody(vm, req.Body, nil)
		case "trailers":
			if req.Trailers == nil {
				return goja.Null()
			}
			return bindHeaders(vm, req.Trailers, nil)
		}
		return goja.Undefined()
	}
	d.set = func(key string, val goja.Value) bool {
		switch key {
		case "method":
			req.Method = flow.Method(val.String())
			return true
		case "version":
			req.Version = flow.Version(val.String())
			return true
		}
		return false
	}
	return vm.NewDynamicObject(d)
}

// bindResponse exposes a *flow.Response: status/version/headers/body/
// trailers. onWrite, when set, is wired through to headers/body too so
// any mutation under flow.response triggers lazy synthesis.
func bindResponse(vm *goja.Runtime, resp *flow.Response, onWrite func()) goja.Value {
	fire := func() {
		if onWrite != nil {
			onWrite()
		}
	}
	keys := []string{"status", "statusCode", "version", "headers", "body", "trailers"}
	d := &dynObject{keys: keys}
	d.get = func(key string) goja.Value {
		switch key {
		case "status", "statusCode":
			return vm.ToValue(int(resp.Status))
		case "version":
			return vm.ToValue(string(resp.Version))
		case "headers":
			return bindHeaders(vm, resp.Headers, onWrite)
		case "body":
			return bindBody(vm, resp.Body, onWrite)
		case "trailers":
			if resp.Trailers == nil {
				return goja.Null()
			}
			return bindHeaders(vm, resp.Trailers, onWrite)
		}
		return goja.Undefined()
	}
	d.set = func(key string, val goja.Value) bool {
		switch key {
		case "status", "statusCode":
			resp.Status = uint16(val.ToInteger())
			fire()
			return true
		case "version":
			resp.Version = flow.Version(val.String())
			fire()
			return true
		}
		return false
	}
	return vm.NewDynamicObject(d)
}

// bindFlow exposes a *flow.Flow as id/request/response/cancel(). rb is
// non-nil only during the request phase, where flow.response must be
// presented even before any real or synthesized response exists.
func bindFlow(vm *goja.Runtime, f *flow.Flow, rb *script.ResponseBinding) goja.Value {
	keys := []string{"id", "request", "response", "cancel"}
	d := &dynObject{keys: keys}
	d.get = func(key string) goja.Value {
		switch key {
		case "id":
			return vm.ToValue(f.ID)
		case "request":
			return bindRequest(vm, f.Request())
		case "response":
			if rb != nil {
				return bindResponse(vm, rb.Response(), rb.MarkWritten)
			}
			resp := f.Response()
			if resp == nil {
				return goja.Null()
			}
			return bindResponse(vm, resp, nil)
		case "cancel":
			return vm.ToValue(func() { f.Cancel() })
		}
		return goja.Undefined()
	}
	return vm.NewDynamicObject(d)
}
