package luaengine

import (
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/script"
	lua "github.com/yuin/gopher-lua"
)

// newPropertyObject builds a table whose field reads and writes are
// intercepted by get/set via a __index/__newindex metatable, giving
// scripts a property-style surface (body.text, url.protocol) instead
// of method calls.
func newPropertyObject(L *lua.LState, get func(key string) lua.LValue, set func(key string, val lua.LValue) bool) *lua.LTable {
	obj := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		L.Push(get(key))
		return 1
	}))
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		val := L.Get(3)
		set(key, val)
		return 0
	}))
	L.SetMetatable(obj, mt)
	return obj
}

// bindHeaders exposes a *flow.Headers as a method table
// (get/get_all/set/append/delete/has/clear/insert/items), each a plain
// table field since headers has no settable top-level properties.
// Handlers read arguments from stack position 1: the script contract is
// dot-call (headers.set(name, value)), not colon-call.
func bindHeaders(L *lua.LState, h *flow.Headers, onWrite func()) *lua.LTable {
	fire := func() {
		if onWrite != nil {
			onWrite()
		}
	}
	t := L.NewTable()
	t.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		v, ok := h.Get(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(v))
		return 1
	}))
	t.RawSetString("get_all", L.NewFunction(func(L *lua.LState) int {
		values := h.GetAll(L.CheckString(1))
		out := L.NewTable()
		for _, v := range values {
			out.Append(lua.LString(v))
		}
		L.Push(out)
		return 1
	}))
	t.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		h.Set(L.CheckString(1), L.CheckString(2))
		fire()
		return 0
	}))
	t.RawSetString("append", L.NewFunction(func(L *lua.LState) int {
		h.Append(L.CheckString(1), L.CheckString(2))
		fire()
		return 0
	}))
	t.RawSetString("delete", L.NewFunction(func(L *lua.LState) int {
		h.Delete(L.CheckString(1))
		fire()
		return 0
	}))
	t.RawSetString("has", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(h.Has(L.CheckString(1))))
		return 1
	}))
	t.RawSetString("clear", L.NewFunction(func(L *lua.LState) int {
		h.Clear()
		fire()
		return 0
	}))
	t.RawSetString("insert", L.NewFunction(func(L *lua.LState) int {
		h.Insert(L.CheckInt(1), L.CheckString(2), L.CheckString(3))
		fire()
		return 0
	}))
	t.RawSetString("items", L.NewFunction(func(L *lua.LState) int {
		multi := L.OptBool(1, false)
		pairs := h.Items(multi)
		out := L.NewTable()
		for _, p := range pairs {
			entry := L.NewTable()
			entry.RawSetString("name", lua.LString(p.Name))
			entry.RawSetString("value", lua.LString(p.Value))
			out.Append(entry)
		}
		L.Push(out)
		return 1
	}))
	return t
}

// bindBody exposes a *flow.Body as text/raw/bytes/length/is_empty
// properties plus a clear() method.
func bindBody(L *lua.LState, b *flow.Body, onWrite func()) *lua.LTable {
	fire := func() {
		if onWrite != nil {
			onWrite()
		}
	}
	return newPropertyObject(L,
		func(key string) lua.LValue {
			switch key {
			case "text":
				return lua.LString(b.Text())
			case "raw", "bytes":
				return lua.LString(string(b.Bytes()))
			case "length":
				return lua.LNumber(b.Length())
			case "is_empty":
				return lua.LBool(b.IsEmpty())
			case "len":
				return lua.LNumber(b.Len())
			case "isEmpty":
				return L.NewFunction(func(L *lua.LState) int {
					L.Push(lua.LBool(b.IsEmptyFunc()))
					return 1
				})
			case "clear":
				return L.NewFunction(func(L *lua.LState) int {
					b.Clear()
					fire()
					return 0
				})
			}
			return lua.LNil
		},
		func(key string, val lua.LValue) bool {
			switch key {
			case "text":
				b.SetText(val.String())
				fire()
				return true
			case "raw", "bytes":
				b.SetBytes([]byte(val.String()))
				fire()
				return true
			}
			return false
		},
	)
}

// bindURL exposes a *flow.URL as its component properties plus the
// search-param methods.
func bindURL(L *lua.LState, u *flow.URL) *lua.LTable {
	return newPropertyObject(L,
		func(key string) lua.LValue {
			switch key {
			case "protocol":
				return lua.LString(u.Protocol())
			case "username":
				v, _ := u.Username()
				return lua.LString(v)
			case "password":
				v, _ := u.Password()
				return lua.LString(v)
			case "hostname":
				v, _ := u.Hostname()
				return lua.LString(v)
			case "port":
				v, _ := u.Port()
				return lua.LString(v)
			case "path":
				v, _ := u.Path()
				return lua.LString(v)
			case "search_params":
				params := u.SearchParams()
				out := L.NewTable()
				for _, p := range params {
					entry := L.NewTable()
					entry.RawSetString("key", lua.LString(p.Key))
					entry.RawSetString("value", lua.LString(p.Value))
					out.Append(entry)
				}
				return out
			case "authority":
				return lua.LString(u.Authority())
			case "host":
				return lua.LString(u.Host())
			case "get_search_param":
				return L.NewFunction(func(L *lua.LState) int {
					v, ok := u.GetSearchParam(L.CheckString(1))
					if !ok {
						L.Push(lua.LNil)
						return 1
					}
					L.Push(lua.LString(v))
					return 1
				})
			case "set_search_param":
				return L.NewFunction(func(L *lua.LState) int {
					u.SetSearchParam(L.CheckString(1), L.CheckString(2))
					return 0
				})
			case "append_search_param":
				return L.NewFunction(func(L *lua.LState) int {
					u.AppendSearchParam(L.CheckString(1), L.CheckString(2))
					return 0
				})
			case "delete_search_param":
				return L.NewFunction(func(L *lua.LState) int {
					u.DeleteSearchParam(L.CheckString(1))
					return 0
				})
			case "tostring":
				return L.NewFunction(func(L *lua.LState) int {
					L.Push(lua.LString(u.String()))
					return 1
				})
			}
			return lua.LNil
		},
		func(key string, val lua.LValue) bool {
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
		},
	)
}

// bindRequest exposes a *flow.Request: method/url/version/headers/
// body/trailers.
func bindRequest(L *lua.LState, req *flow.Request) *lua.LTable {
	return newPropertyObject(L,
		func(key string) lua.LValue {
			switch key {
			case "method":
				return lua.LString(string(req.Method))
			case "url":
				return bindURL(L, req.URL)
			case "version":
				return lua.LString(string(req.Version))
			case "headers":
				return bindHeaders(L, req.Headers, nil)
			case "body":
				return bindBody(L, req.Body, nil)
			case "trailers":
				if req.Trailers == nil {
					return lua.LNil
				}
				return bindHeaders(L, req.Trailers, nil)
			}
			return lua.LNil
		},
		func(key string, val lua.LValue) bool {
			switch key {
			case "method":
				req.Method = flow.Method(val.String())
				return true
			case "version":
				req.Version = flow.Version(val.String())
				return true
			}
			return false
		},
	)
}

// bindResponse exposes a *flow.Response: status/version/headers/body/
// trailers. onWrite, when set, is wired through to headers/body too so
// any mutation under flow.response triggers lazy synthesis.
func bindResponse(L *lua.LState, resp *flow.Response, onWrite func()) *lua.LTable {
	fire := func() {
		if onWrite != nil {
			onWrite()
		}
	}
	return newPropertyObject(L,
		func(key string) lua.LValue {
			switch key {
			case "status", "statusCode":
				return lua.LNumber(resp.Status)
			case "version":
				return lua.LString(string(resp.Version))
			case "headers":
				return bindHeaders(L, resp.Headers, onWrite)
			case "body":
				return bindBody(L, resp.Body, onWrite)
			case "trailers":
				if resp.Trailers == nil {
					return lua.LNil
				}
				return bindHeaders(L, resp.Trailers, onWrite)
			}
			return lua.LNil
		},
		func(key string, val lua.LValue) bool {
			switch key {
			case "status", "statusCode":
				resp.Status = uint16(lua.LVAsNumber(val))
				fire()
				return true
			case "version":
				resp.Version = flow.Version(val.String())
				fire()
				return true
			}
			return false
		},
	)
}

// bindFlow exposes a *flow.Flow as id/request/response/cancel(). rb is
// non-nil only during the request phase, where flow.response must be
// presented even before any real or synthesized response exists.
func bindFlow(L *lua.LState, f *flow.Flow, rb *script.ResponseBinding) *lua.LTable {
	return newPropertyObject(L,
		func(key string) lua.LValue {
			switch key {
			case "id":
				return lua.LString(f.ID)
			case "request":
				return bindRequest(L, f.Request())
			case "response":
				if rb != nil {
					return bindResponse(L, rb.Response(), rb.MarkWritten)
				}
				resp := f.Response()
				if resp == nil {
					return lua.LNil
				}
				return bindResponse(L, resp, nil)
			case "cancel":
				return L.NewFunction(func(L *lua.LState) int {
					f.Cancel()
					return 0
				})
			}
			return lua.LNil
		},
		func(key string, val lua.LValue) bool { return false },
	)
}
