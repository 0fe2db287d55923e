package pyengine

import "github.com/go-python/gpython/py"

// preludeSource defines the script-visible object graph (Headers/
// Body/URL/Request/Response/Flow) as plain Python classes whose
// accessors are built with the explicit property(fget, fset) form
// (never @x.setter decorators), each delegating to a host-bound
// function captured over
// the specific *flow.* pointer it wraps (see bind.go). Expressing the
// property/descriptor semantics in real Python sidesteps needing any
// gpython-internal attribute-hook API: the only Go/gpython boundary
// this relies on is py.Call/py.MustNewMethod, already proven by
// bindHostAPI's notify/writeFile bindings. The Method/Protocol/Version/
// Status enum namespaces live here too, as plain attribute objects
// (dict globals would not support Method.GET attribute access); their
// values mirror internal/flow/enum.go.
const preludeSource = `
class _Pair:
    def __init__(self, name, value):
        self.name = name
        self.value = value


class _QueryParam:
    def __init__(self, key, value):
        self.key = key
        self.value = value


class _Headers:
    def __init__(self, get_fn, get_all_fn, set_fn, append_fn, delete_fn,
                 has_fn, clear_fn, insert_fn, items_fn):
        self._get_fn = get_fn
        self._get_all_fn = get_all_fn
        self._set_fn = set_fn
        self._append_fn = append_fn
        self._delete_fn = delete_fn
        self._has_fn = has_fn
        self._clear_fn = clear_fn
        self._insert_fn = insert_fn
        self._items_fn = items_fn

    def get(self, name):
        return self._get_fn(name)

    def get_all(self, name):
        return self._get_all_fn(name)

    def set(self, name, value):
        return self._set_fn(name, value)

    def append(self, name, value):
        return self._append_fn(name, value)

    def delete(self, name):
        return self._delete_fn(name)

    def has(self, name):
        return bool(self._has_fn(name))

    def clear(self):
        return self._clear_fn()

    def insert(self, index, name, value):
        return self._insert_fn(index, name, value)

    def items(self, multi=False):
        return self._items_fn(1 if multi else 0)


class _Body:
    def __init__(self, get_text, set_text, get_raw, set_raw,
                 get_length, get_is_empty, clear_fn):
        self._get_text = get_text
        self._set_text = set_text
        self._get_raw = get_raw
        self._set_raw = set_raw
        self._get_length = get_length
        self._get_is_empty = get_is_empty
        self._clear_fn = clear_fn

    def _text_get(self):
        return self._get_text()

    def _text_set(self, value):
        self._set_text(value)

    text = property(_text_get, _text_set)

    def _raw_get(self):
        return self._get_raw()

    def _raw_set(self, value):
        self._set_raw(value)

    raw = property(_raw_get, _raw_set)
    bytes = raw

    def _length_get(self):
        return self._get_length()

    length = property(_length_get)
    len = length

    def _is_empty_get(self):
        return bool(self._get_is_empty())

    is_empty = property(_is_empty_get)

    def isEmpty(self):
        return bool(self._get_is_empty())

    def clear(self):
        return self._clear_fn()


class _URL:
    def __init__(self, get_protocol, set_protocol, get_username, set_username,
                 get_password, set_password, get_hostname, set_hostname,
                 get_port, set_port, get_path, set_path, get_search_params,
                 get_search_param_fn, set_search_param_fn,
                 append_search_param_fn, delete_search_param_fn,
                 get_authority, get_host, to_string):
        self._get_protocol = get_protocol
        self._set_protocol = set_protocol
        self._get_username = get_username
        self._set_username = set_username
        self._get_password = get_password
        self._set_password = set_password
        self._get_hostname = get_hostname
        self._set_hostname = set_hostname
        self._get_port = get_port
        self._set_port = set_port
        self._get_path = get_path
        self._set_path = set_path
        self._get_search_params = get_search_params
        self._get_search_param_fn = get_search_param_fn
        self._set_search_param_fn = set_search_param_fn
        self._append_search_param_fn = append_search_param_fn
        self._delete_search_param_fn = delete_search_param_fn
        self._get_authority = get_authority
        self._get_host = get_host
        self._to_string = to_string

    def _protocol_get(self):
        return self._get_protocol()

    def _protocol_set(self, value):
        self._set_protocol(value)

    protocol = property(_protocol_get, _protocol_set)

    def _username_get(self):
        return self._get_username()

    def _username_set(self, value):
        self._set_username(value)

    username = property(_username_get, _username_set)

    def _password_get(self):
        return self._get_password()

    def _password_set(self, value):
        self._set_password(value)

    password = property(_password_get, _password_set)

    def _hostname_get(self):
        return self._get_hostname()

    def _hostname_set(self, value):
        self._set_hostname(value)

    hostname = property(_hostname_get, _hostname_set)

    def _port_get(self):
        return self._get_port()

    def _port_set(self, value):
        self._set_port(value)

    port = property(_port_get, _port_set)

    def _path_get(self):
        return self._get_path()

    def _path_set(self, value):
        self._set_path(value)

    path = property(_path_get, _path_set)

    def _search_params_get(self):
        return self._get_search_params()

    search_params = property(_search_params_get)

    def _authority_get(self):
        return self._get_authority()

    authority = property(_authority_get)

    def _host_get(self):
        return self._get_host()

    host = property(_host_get)

    def get_search_param(self, key):
        return self._get_search_param_fn(key)

    def set_search_param(self, key, value):
        return self._set_search_param_fn(key, value)

    def append_search_param(self, key, value):
        return self._append_search_param_fn(key, value)

    def delete_search_param(self, key):
        return self._delete_search_param_fn(key)

    def __str__(self):
        return self._to_string()


class _Request:
    def __init__(self, get_method, set_method, url, get_version, set_version,
                 headers, body, trailers):
        self._get_method = get_method
        self._set_method = set_method
        self._url = url
        self._get_version = get_version
        self._set_version = set_version
        self._headers = headers
        self._body = body
        self._trailers = trailers

    def _method_get(self):
        return self._get_method()

    def _method_set(self, value):
        self._set_method(value)

    method = property(_method_get, _method_set)

    def _url_get(self):
        return self._url

    url = property(_url_get)

    def _version_get(self):
        return self._get_version()

    def _version_set(self, value):
        self._set_version(value)

    version = property(_version_get, _version_set)

    def _headers_get(self):
        return self._headers

    headers = property(_headers_get)

    def _body_get(self):
        return self._body

    body = property(_body_get)

    def _trailers_get(self):
        return self._trailers

    trailers = property(_trailers_get)


class _Response:
    def __init__(self, get_status, set_status, get_version, set_version,
                 headers, body, trailers):
        self._get_status = get_status
        self._set_status = set_status
        self._get_version = get_version
        self._set_version = set_version
        self._headers = headers
        self._body = body
        self._trailers = trailers

    def _status_get(self):
        return self._get_status()

    def _status_set(self, value):
        self._set_status(value)

    status = property(_status_get, _status_set)
    status_code = status

    def _version_get(self):
        return self._get_version()

    def _version_set(self, value):
        self._set_version(value)

    version = property(_version_get, _version_set)

    def _headers_get(self):
        return self._headers

    headers = property(_headers_get)

    def _body_get(self):
        return self._body

    body = property(_body_get)

    def _trailers_get(self):
        return self._trailers

    trailers = property(_trailers_get)


class _Flow:
    def __init__(self, id, request, response, cancel_fn):
        self._id = id
        self._request = request
        self._response = response
        self._cancel_fn = cancel_fn

    def _id_get(self):
        return self._id

    id = property(_id_get)

    def _request_get(self):
        return self._request

    request = property(_request_get)

    def _response_get(self):
        return self._response

    response = property(_response_get)

    def cancel(self):
        return self._cancel_fn()


class _RoxyAPI:
    def notify(self, level, message):
        return notify(level, message)


roxy = _RoxyAPI()
Roxy = roxy


class _Namespace:
    pass


Method = _Namespace()
Method.GET = "GET"
Method.HEAD = "HEAD"
Method.POST = "POST"
Method.PUT = "PUT"
Method.DELETE = "DELETE"
Method.CONNECT = "CONNECT"
Method.OPTIONS = "OPTIONS"
Method.TRACE = "TRACE"
Method.PATCH = "PATCH"

Protocol = _Namespace()
Protocol.HTTP = "http"
Protocol.HTTPS = "https"

Version = _Namespace()
Version.HTTP_0_9 = "HTTP/0.9"
Version.HTTP_1_0 = "1.0"
Version.HTTP_1_1 = "1.1"
Version.HTTP_2 = "2"
Version.HTTP_3 = "3"

Status = _Namespace()
Status.OK = 200
Status.CREATED = 201
Status.NO_CONTENT = 204
Status.MOVED_PERMANENTLY = 301
Status.FOUND = 302
Status.NOT_MODIFIED = 304
Status.BAD_REQUEST = 400
Status.UNAUTHORIZED = 401
Status.FORBIDDEN = 403
Status.NOT_FOUND = 404
Status.INTERNAL_SERVER_ERROR = 500
Status.BAD_GATEWAY = 502
Status.SERVICE_UNAVAILABLE = 503
Status.GATEWAY_TIMEOUT = 504


def _dispatch(ext, phase, *args):
    fn = getattr(ext, phase, None)
    if fn is None:
        return None
    return fn(*args)
`

// classes captures the prelude's class objects once, after it has run,
// so bind.go can instantiate them per-flow without re-running any
// Python source on every dispatch.
type classes struct {
	headers, body, url, request, response, flow, pair, queryParam py.Object
}

func loadClasses(globals py.StringDict) *classes {
	return &classes{
		headers:    globals["_Headers"],
		body:       globals["_Body"],
		url:        globals["_URL"],
		request:    globals["_Request"],
		response:   globals["_Response"],
		flow:       globals["_Flow"],
		pair:       globals["_Pair"],
		queryParam: globals["_QueryParam"],
	}
}
