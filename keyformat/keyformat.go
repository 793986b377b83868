// Package keyformat derives cache keys from function identity, tags, and
// call arguments. Two calls with the same effective arguments always produce
// the same key; the rendered format is
//
//	<ttl-region>:<prefix><function>|<tag>|<field1>=<value1>,<field2>=<value2>
//
// which keeps keys stable across processes and lets tag- and function-scoped
// glob patterns select related entries for bulk operations.
package keyformat

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// maxFragmentLen bounds the rendered argument fragment. Longer fragments are
// replaced by an xxhash digest so keys stay within backend key-size limits
// while remaining deterministic.
const maxFragmentLen = 256

// Generator produces cache key bodies for one wrapped function.
type Generator struct {
	fnName  string
	tag     string
	exclude map[string]struct{}
}

// New returns a Generator for the named function. Excluded names are struct
// field or map key names omitted from the rendered fragment.
func New(fnName, tag string, exclude ...string) *Generator {
	ex := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		ex[name] = struct{}{}
	}
	return &Generator{fnName: fnName, tag: tag, exclude: ex}
}

// FnName returns the function name this generator keys for.
func (g *Generator) FnName() string { return g.fnName }

// Key renders the key body <fn>|<tag>|<fragment> for the given argument.
func (g *Generator) Key(arg any) string {
	return g.fnName + "|" + g.tag + "|" + Fragment(arg, g.exclude)
}

// Fragment renders a canonical representation of a call argument. Structs
// render as sorted field=value pairs, maps with string keys as sorted
// key=value pairs, everything else via its default formatting. Excluded
// names are skipped.
func Fragment(arg any, exclude map[string]struct{}) string {
	frag := renderFragment(arg, exclude)
	if len(frag) > maxFragmentLen {
		return "h:" + strconv.FormatUint(xxhash.Sum64String(frag), 16)
	}
	return frag
}

func renderFragment(arg any, exclude map[string]struct{}) string {
	if arg == nil {
		return ""
	}
	v := reflect.ValueOf(arg)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
		return renderPairs(structPairs(v, exclude))
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			return renderPairs(mapPairs(v, exclude))
		}
	}
	return fmt.Sprintf("%v", v.Interface())
}

type pair struct {
	name  string
	value string
}

func structPairs(v reflect.Value, exclude map[string]struct{}) []pair {
	t := v.Type()
	pairs := make([]pair, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if _, skip := exclude[f.Name]; skip {
			continue
		}
		pairs = append(pairs, pair{f.Name, renderFragment(v.Field(i).Interface(), nil)})
	}
	return pairs
}

func mapPairs(v reflect.Value, exclude map[string]struct{}) []pair {
	pairs := make([]pair, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		name := iter.Key().String()
		if _, skip := exclude[name]; skip {
			continue
		}
		pairs = append(pairs, pair{name, renderFragment(iter.Value().Interface(), nil)})
	}
	return pairs
}

func renderPairs(pairs []pair) string {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].name < pairs[j].name })
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.name + "=" + p.value
	}
	return strings.Join(parts, ",")
}

// DynamicTTL is the region discriminant used when a function's TTL is
// computed per result. All dynamically-TTL'd entries for one (scope, kind)
// share a single backend instance.
const DynamicTTL = time.Duration(-1)

// Region renders a TTL as its region discriminant: whole seconds, or "-1"
// for dynamic TTLs.
func Region(ttl time.Duration) string {
	if ttl < 0 {
		return "-1"
	}
	return strconv.FormatInt(int64(ttl/time.Second), 10)
}

// Mangle prefixes a key body with its TTL region and the configured key
// prefix, producing the final storage key.
func Mangle(body, prefix string, ttl time.Duration) string {
	return Region(ttl) + ":" + prefix + body
}

// TagPattern returns the glob selecting every entry carrying the given tag,
// or the match-all pattern when tag is empty.
func TagPattern(tag string) string {
	if tag == "" {
		return "*"
	}
	return "*|" + tag + "|*"
}

// FnPattern returns the glob selecting every entry belonging to the named
// function under the given key prefix, across all TTL regions.
func FnPattern(prefix, fnName string) string {
	return "*:" + prefix + fnName + "|*"
}
