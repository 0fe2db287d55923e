package pyengine

import (
	"github.com/go-python/gpython/py"
	"github.com/roxyhq/roxy/internal/flow"
	"github.com/roxyhq/roxy/internal/script"
)

// hostFunc wraps a Go closure as a py.Method taking no bound self — the
// prelude classes never store these as class attributes (which would
// trigger Python's descriptor binding), only as plain instance
// attributes assigned in __init__, so self is always unused here.
func hostFunc(name string, fn func(args py.Tuple) (py.Object, error)) py.Object {
	return py.MustNewMethod(name, func(self py.Object, args py.Tuple) (py.Object, error) {
		return fn(args)
	}, 0, name)
}

// argStr coerces a positional argument to a Go string. Every caller in
// the prelude passes str values for these positions, so a direct type
// assertion is sufficient; anything else reads as "".
func argStr(args py.Tuple, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(py.String)
	return string(s)
}

// argInt coerces a positional argument to a Go int. Every caller in
// this file only ever passes Python int literals (status codes, the
// items()/insert() integer flags), so a direct py.Int assertion is
// sufficient.
func argInt(args py.Tuple, i int) int {
	if i >= len(args) {
		return 0
	}
	n, _ := args[i].(py.Int)
	return int(n)
}

// buildHeaders exposes a *flow.Headers as a prelude _Headers instance:
// get/get_all/set/append/delete/has/clear/insert/items.
func buildHeaders(pyCtx py.Context, cls *classes, h *flow.Headers, onWrite func()) (py.Object, error) {
	fire := func() {
		if onWrite != nil {
			onWrite()
		}
	}
	args := py.Tuple{
		hostFunc("get", func(args py.Tuple) (py.Object, error) {
			v, ok := h.Get(argStr(args, 0))
			if !ok {
				return py.None, nil
			}
			return py.String(v), nil
		}),
		hostFunc("get_all", func(args py.Tuple) (py.Object, error) {
			values := h.GetAll(argStr(args, 0))
			out := py.NewList()
			for _, v := range values {
				out.Append(py.String(v))
			}
			return out, nil
		}),
		hostFunc("set", func(args py.Tuple) (py.Object, error) {
			h.Set(argStr(args, 0), argStr(args, 1))
			fire()
			return py.None, nil
		}),
		hostFunc("append", func(args py.Tuple) (py.Object, error) {
			h.Append(argStr(args, 0), argStr(args, 1))
			fire()
			return py.None, nil
		}),
		hostFunc("delete", func(args py.Tuple) (py.Object, error) {
			h.Delete(argStr(args, 0))
			fire()
			return py.None, nil
		}),
		hostFunc("has", func(args py.Tuple) (py.Object, error) {
			if h.Has(argStr(args, 0)) {
				return py.Int(1), nil
			}
			return py.Int(0), nil
		}),
		hostFunc("clear", func(args py.Tuple) (py.Object, error) {
			h.Clear()
			fire()
			return py.None, nil
		}),
		hostFunc("insert", func(args py.Tuple) (py.Object, error) {
			h.Insert(argInt(args, 0), argStr(args, 1), argStr(args, 2))
			fire()
			return py.None, nil
		}),
		hostFunc("items", func(args py.Tuple) (py.Object, error) {
			multi := argInt(args, 0) != 0
			pairs := h.Items(multi)
			out := py.NewList()
			for _, p := range pairs {
				pairObj, err := py.Call(pyCtx, cls.pair, py.Tuple{py.String(p.Name), py.String(p.Value)}, nil)
				if err != nil {
					return nil, err
				}
				out.Append(pairObj)
			}
			return out, nil
		}),
	}
	return py.Call(pyCtx, cls.headers, args, nil)
}

// buildBody exposes a *flow.Body as a prelude _Body instance:
// text/raw/bytes/length/len/is_empty properties plus clear().
func buildBody(pyCtx py.Context, cls *classes, b *flow.Body, onWrite func()) (py.Object, error) {
	fire := func() {
		if onWrite != nil {
			onWrite()
		}
	}
	args := py.Tuple{
		hostFunc("get_text", func(args py.Tuple) (py.Object, error) { return py.String(b.Text()), nil }),
		hostFunc("set_text", func(args py.Tuple) (py.Object, error) {
			b.SetText(argStr(args, 0))
			fire()
			return py.None, nil
		}),
		hostFunc("get_raw", func(args py.Tuple) (py.Object, error) { return py.String(string(b.Bytes())), nil }),
		hostFunc("set_raw", func(args py.Tuple) (py.Object, error) {
			b.SetBytes([]byte(argStr(args, 0)))
			fire()
			return py.None, nil
		}),
		hostFunc("get_length", func(args py.Tuple) (py.Object, error) { return py.Int(b.Length()), nil }),
		hostFunc("get_is_empty", func(args py.Tuple) (py.Object, error) {
			if b.IsEmpty() {
				return py.Int(1), nil
			}
			return py.Int(0), nil
		}),
		hostFunc("clear", func(args py.Tuple) (py.Object, error) {
			b.Clear()
			fire()
			return py.None, nil
		}),
	}
	return py.Call(pyCtx, cls.body, args, nil)
}

// buildURL exposes a *flow.URL as a prelude _URL instance: the
// component properties plus the search-param methods.
func buildURL(pyCtx py.Context, cls *classes, u *flow.URL) (py.Object, error) {
	args := py.Tuple{
		hostFunc("get_protocol", func(args py.Tuple) (py.Object, error) { return py.String(u.Protocol()), nil }),
		hostFunc("set_protocol", func(args py.Tuple) (py.Object, error) {
			u.SetProtocol(argStr(args, 0))
			return py.None, nil
		}),
		hostFunc("get_username", func(args py.Tuple) (py.Object, error) {
			v, _ := u.Username()
			return py.String(v), nil
		}),
		hostFunc("set_username", func(args py.Tuple) (py.Object, error) {
			u.SetUsername(argStr(args, 0))
			return py.None, nil
		}),
		hostFunc("get_password", func(args py.Tuple) (py.Object, error) {
			v, _ := u.Password()
			return py.String(v), nil
		}),
		hostFunc("set_password", func(args py.Tuple) (py.Object, error) {
			u.SetPassword(argStr(args, 0))
			return py.None, nil
		}),
		hostFunc("get_hostname", func(args py.Tuple) (py.Object, error) {
			v, _ := u.Hostname()
			return py.String(v), nil
		}),
		hostFunc("set_hostname", func(args py.Tuple) (py.Object, error) {
			u.SetHostname(argStr(args, 0))
			return py.None, nil
		}),
		hostFunc("get_port", func(args py.Tuple) (py.Object, error) {
			v, _ := u.Port()
			return py.String(v), nil
		}),
		hostFunc("set_port", func(args py.Tuple) (py.Object, error) {
			u.SetPort(argStr(args, 0))
			return py.None, nil
		}),
		hostFunc("get_path", func(args py.Tuple) (py.Object, error) {
			v, _ := u.Path()
			return py.String(v), nil
		}),
		hostFunc("set_path", func(args py.Tuple) (py.Object, error) {
			u.SetPath(argStr(args, 0))
			return py.None, nil
		}),
		hostFunc("get_search_params", func(args py.Tuple) (py.Object, error) {
			params := u.SearchParams()
			out := py.NewList()
			for _, p := range params {
				obj, err := py.Call(pyCtx, cls.queryParam, py.Tuple{py.String(p.Key), py.String(p.Value)}, nil)
				if err != nil {
					return nil, err
				}
				out.Append(obj)
			}
			return out, nil
		}),
		hostFunc("get_search_param", func(args py.Tuple) (py.Object, error) {
			v, ok := u.GetSearchParam(argStr(args, 0))
			if !ok {
				return py.None, nil
			}
			return py.String(v), nil
		}),
		hostFunc("set_search_param", func(args py.Tuple) (py.Object, error) {
			u.SetSearchParam(argStr(args, 0), argStr(args, 1))
			return py.None, nil
		}),
		hostFunc("append_search_param", func(args py.Tuple) (py.Object, error) {
			u.AppendSearchParam(argStr(args, 0), argStr(args, 1))
			return py.None, nil
		}),
		hostFunc("delete_search_param", func(args py.Tuple) (py.Object, error) {
			u.DeleteSearchParam(argStr(args, 0))
			return py.None, nil
		}),
		hostFunc("get_authority", func(args py.Tuple) (py.Object, error) { return py.String(u.Authority()), nil }),
		hostFunc("get_host", func(args py.Tuple) (py.Object, error) { return py.String(u.Host()), nil }),
		hostFunc("to_string", func(args py.Tuple) (py.Object, error) { return py.String(u.String()), nil }),
	}
	return py.Call(pyCtx, cls.url, args, nil)
}

// buildRequest exposes a *flow.Request: method/url/version/headers/
// body/trailers.
func buildRequest(pyCtx py.Context, cls *classes, req *flow.Request) (py.Object, error) {
	urlObj, err := buildURL(pyCtx, cls, req.URL)
	if err != nil {
		return nil, err
	}
	headersObj, err := buildHeaders(pyCtx, cls, req.Headers, nil)
	if err != nil {
		return nil, err
	}
	bodyObj, err := buildBody(pyCtx, cls, req.Body, nil)
	if err != nil {
		return nil, err
	}
	var trailersObj py.Object = py.None
	if req.Trailers != nil {
		trailersObj, err = buildHeaders(pyCtx, cls, req.Trailers, nil)
		if err != nil {
			return nil, err
		}
	}
	args := py.Tuple{
		hostFunc("get_method", func(args py.Tuple) (py.Object, error) { return py.String(string(req.Method)), nil }),
		hostFunc("set_method", func(args py.Tuple) (py.Object, error) {
			req.Method = flow.Method(argStr(args, 0))
			return py.None, nil
		}),
		urlObj,
		hostFunc("get_version", func(args py.Tuple) (py.Object, error) { return py.String(string(req.Version)), nil }),
		hostFunc("set_version", func(args py.Tuple) (py.Object, error) {
			req.Version = flow.Version(argStr(args, 0))
			return py.None, nil
		}),
		headersObj,
		bodyObj,
		trailersObj,
	}
	return py.Call(pyCtx, cls.request, args, nil)
}

// buildResponse exposes a *flow.Response: status/version/headers/body/
// trailers. onWrite, when set, is wired through to headers/body too so
// any mutation under flow.response triggers lazy synthesis.
func buildResponse(pyCtx py.Context, cls *classes, resp *flow.Response, onWrite func()) (py.Object, error) {
	fire := func() {
		if onWrite != nil {
			onWrite()
		}
	}
	headersObj, err := buildHeaders(pyCtx, cls, resp.Headers, onWrite)
	if err != nil {
		return nil, err
	}
	bodyObj, err := buildBody(pyCtx, cls, resp.Body, onWrite)
	if err != nil {
		return nil, err
	}
	var trailersObj py.Object = py.None
	if resp.Trailers != nil {
		trailersObj, err = buildHeaders(pyCtx, cls, resp.Trailers, onWrite)
		if err != nil {
			return nil, err
		}
	}
	args := py.Tuple{
		hostFunc("get_status", func(args py.Tuple) (py.Object, error) { return py.Int(resp.Status), nil }),
		hostFunc("set_status", func(args py.Tuple) (py.Object, error) {
			resp.Status = uint16(argInt(args, 0))
			fire()
			return py.None, nil
		}),
		hostFunc("get_version", func(args py.Tuple) (py.Object, error) { return py.String(string(resp.Version)), nil }),
		hostFunc("set_version", func(args py.Tuple) (py.Object, error) {
			resp.Version = flow.Version(argStr(args, 0))
			fire()
			return py.None, nil
		}),
		headersObj,
		bodyObj,
		trailersObj,
	}
	return py.Call(pyCtx, cls.response, args, nil)
}

// buildFlow exposes a *flow.Flow as a prelude _Flow instance:
// id/request/response/cancel(). rb is non-nil only during the request
// phase, where flow.response must be presented even before any real or
// synthesized response exists.
func buildFlow(pyCtx py.Context, cls *classes, f *flow.Flow, rb *script.ResponseBinding) (py.Object, error) {
	reqObj, err := buildRequest(pyCtx, cls, f.Request())
	if err != nil {
		return nil, err
	}
	var respObj py.Object = py.None
	switch {
	case rb != nil:
		respObj, err = buildResponse(pyCtx, cls, rb.Response(), rb.MarkWritten)
	case f.Response() != nil:
		respObj, err = buildResponse(pyCtx, cls, f.Response(), nil)
	}
	if err != nil {
		return nil, err
	}
	args := py.Tuple{
		py.String(f.ID),
		reqObj,
		respObj,
		hostFunc("cancel", func(args py.Tuple) (py.Object, error) {
			f.Cancel()
			return py.None, nil
		}),
	}
	return py.Call(pyCtx, cls.flow, args, nil)
}
