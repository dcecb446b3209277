package handler

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/quarryd/quarry/internal/scraper"
)

// DynamicName is the registry name of the dynamic handler.
const DynamicName = "dynamic_scraper"

// maxExecutionSteps bounds a single dynamic run against runaway loops.
const maxExecutionSteps = 50_000_000

// htmlParser is the surface of the parser middleware the dynamic sandbox
// re-exports as ctx helpers.
type htmlParser interface {
	Select(html, selector string) ([]string, error)
	Attr(html, selector, attr string) ([]string, error)
}

// Dynamic executes user-supplied Starlark source. The source must define
// handler(ctx, **kwargs); it runs in an isolated thread whose only gateway
// to the outside world is the provided ctx module, so scripts cannot touch
// the filesystem or open their own connections.
type Dynamic struct{}

// NewDynamic creates the dynamic handler.
func NewDynamic() *Dynamic {
	return &Dynamic{}
}

// Name implements Handler.
func (h *Dynamic) Name() string {
	return DynamicName
}

type dynamicParams struct {
	SourceCode string
	Kwargs     map[string]any
}

func parseDynamicParams(params map[string]any) (dynamicParams, error) {
	source, ok := params["source_code"].(string)
	if !ok || source == "" {
		return dynamicParams{}, errors.New("params.source_code must be a non-empty string")
	}
	out := dynamicParams{SourceCode: source}
	if kwargs, ok := params["kwargs"]; ok {
		m, ok := kwargs.(map[string]any)
		if !ok {
			return dynamicParams{}, errors.New("params.kwargs must be an object")
		}
		out.Kwargs = m
	}
	return out, nil
}

// Run implements Handler.
func (h *Dynamic) Run(ctx *scraper.Context) (string, error) {
	params, err := parseDynamicParams(ctx.Params())
	if err != nil {
		return "", err
	}

	thread := &starlark.Thread{Name: DynamicName}
	thread.SetMaxExecutionSteps(maxExecutionSteps)

	// Propagate task cancellation into the Starlark interpreter.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.StdContext().Done():
			thread.Cancel("task cancelled")
		case <-done:
		}
	}()

	globals, err := starlark.ExecFile(thread, "<scraper>", params.SourceCode, starlark.StringDict{})
	if err != nil {
		return "", fmt.Errorf("evaluate source: %w", err)
	}
	fn, ok := globals["handler"].(starlark.Callable)
	if !ok {
		return "", errors.New("source must define a handler function")
	}

	kwargs, err := starlarkKwargs(params.Kwargs)
	if err != nil {
		return "", err
	}
	result, err := starlark.Call(thread, fn, starlark.Tuple{h.contextModule(ctx)}, kwargs)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return "", fmt.Errorf("handler failed: %s", evalErr.Backtrace())
		}
		return "", fmt.Errorf("handler failed: %w", err)
	}
	return renderResult(result)
}

// contextModule exposes the scraping context to scripts: HTTP verbs, params,
// persistent state, logging and HTML helpers.
func (h *Dynamic) contextModule(ctx *scraper.Context) starlark.Value {
	members := starlark.StringDict{
		"get":     h.verb(ctx, "get", ctx.Get),
		"post":    h.verb(ctx, "post", ctx.Post),
		"put":     h.verb(ctx, "put", ctx.Put),
		"delete":  h.verb(ctx, "delete", ctx.Delete),
		"head":    h.verb(ctx, "head", ctx.Head),
		"options": h.verb(ctx, "options", ctx.Options),
		"patch":   h.verb(ctx, "patch", ctx.Patch),
		"params":  mustGoToStarlark(ctx.Params()),
		"state": starlark.NewBuiltin("state", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			state, err := ctx.State()
			if err != nil {
				return nil, err
			}
			return starlark.String(state), nil
		}),
		"update_state": starlark.NewBuiltin("update_state", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var state string
			if err := starlark.UnpackPositionalArgs("update_state", args, kwargs, 1, &state); err != nil {
				return nil, err
			}
			updated, err := ctx.UpdateState(state)
			if err != nil {
				return nil, err
			}
			return starlark.String(updated), nil
		}),
		"log": starlark.NewBuiltin("log", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var msg string
			if err := starlark.UnpackPositionalArgs("log", args, kwargs, 1, &msg); err != nil {
				return nil, err
			}
			ctx.Logger().Info(msg)
			return starlark.None, nil
		}),
	}

	if parser, ok := ctx.Middleware("parser"); ok {
		if p, ok := parser.(htmlParser); ok {
			members["select"] = parserBuiltin("select", p.Select)
			members["attr"] = starlark.NewBuiltin("attr", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var html, selector, attr string
				if err := starlark.UnpackPositionalArgs("attr", args, kwargs, 3, &html, &selector, &attr); err != nil {
					return nil, err
				}
				values, err := p.Attr(html, selector, attr)
				if err != nil {
					return nil, err
				}
				return stringList(values), nil
			})
		}
	}

	return starlarkstruct.FromStringDict(starlarkstruct.Default, members)
}

func parserBuiltin(name string, fn func(html, selector string) ([]string, error)) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var html, selector string
		if err := starlark.UnpackPositionalArgs(name, args, kwargs, 2, &html, &selector); err != nil {
			return nil, err
		}
		values, err := fn(html, selector)
		if err != nil {
			return nil, err
		}
		return stringList(values), nil
	})
}

type verbFunc func(url string, opts ...scraper.RequestOption) (*scraper.Response, error)

// verb wraps an HTTP verb of the context as verb(url, headers={}, body="").
func (h *Dynamic) verb(ctx *scraper.Context, name string, fn verbFunc) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var url string
		var headers *starlark.Dict
		var body string
		if err := starlark.UnpackArgs(name, args, kwargs,
			"url", &url, "headers?", &headers, "body?", &body); err != nil {
			return nil, err
		}

		var opts []scraper.RequestOption
		if headers != nil {
			for _, item := range headers.Items() {
				key, ok := starlark.AsString(item[0])
				if !ok {
					return nil, fmt.Errorf("header name %v is not a string", item[0])
				}
				value, ok := starlark.AsString(item[1])
				if !ok {
					return nil, fmt.Errorf("header value %v is not a string", item[1])
				}
				opts = append(opts, scraper.WithHeader(key, value))
			}
		}
		if body != "" {
			opts = append(opts, scraper.WithBody([]byte(body)))
		}

		resp, err := fn(url, opts...)
		if err != nil {
			return nil, err
		}
		return responseStruct(resp), nil
	})
}

func responseStruct(resp *scraper.Response) starlark.Value {
	headers := starlark.NewDict(len(resp.Header))
	for key := range resp.Header {
		_ = headers.SetKey(starlark.String(key), starlark.String(resp.Header.Get(key)))
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"status":  starlark.MakeInt(resp.StatusCode),
		"body":    starlark.String(resp.Body),
		"headers": headers,
	})
}

func stringList(values []string) *starlark.List {
	items := make([]starlark.Value, len(values))
	for i, v := range values {
		items[i] = starlark.String(v)
	}
	return starlark.NewList(items)
}

func starlarkKwargs(kwargs map[string]any) ([]starlark.Tuple, error) {
	out := make([]starlark.Tuple, 0, len(kwargs))
	for key, value := range kwargs {
		v, err := goToStarlark(value)
		if err != nil {
			return nil, fmt.Errorf("kwarg %q: %w", key, err)
		}
		out = append(out, starlark.Tuple{starlark.String(key), v})
	}
	return out, nil
}

func mustGoToStarlark(v any) starlark.Value {
	out, err := goToStarlark(v)
	if err != nil {
		return starlark.None
	}
	return out
}

// goToStarlark converts JSON-shaped Go values into Starlark values.
func goToStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		if val == float64(int64(val)) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case []any:
		items := make([]starlark.Value, len(val))
		for i, item := range val {
			conv, err := goToStarlark(item)
			if err != nil {
				return nil, err
			}
			items[i] = conv
		}
		return starlark.NewList(items), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for key, item := range val {
			conv, err := goToStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), conv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// starlarkToGo converts Starlark values back into JSON-shaped Go values.
func starlarkToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return val.String(), nil
	case starlark.Float:
		return float64(val), nil
	case *starlark.List:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := starlarkToGo(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, len(val))
		for _, item := range val {
			conv, err := starlarkToGo(item)
			if err != nil {
				return nil, err
			}
			out = append(out, conv)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict key %v is not a string", item[0])
			}
			conv, err := starlarkToGo(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", v.Type())
	}
}

// renderResult turns the handler's return value into the task result string.
func renderResult(v starlark.Value) (string, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return "no result was returned", nil
	case starlark.String:
		return string(val), nil
	default:
		converted, err := starlarkToGo(v)
		if err != nil {
			return "", err
		}
		blob, err := json.MarshalIndent(converted, "", "  ")
		if err != nil {
			return "", fmt.Errorf("serialize result: %w", err)
		}
		return string(blob), nil
	}
}
