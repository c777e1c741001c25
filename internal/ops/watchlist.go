package ops

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	yerrors "github.com/yanun0323/errors"

	"intraday/internal/schema"
)

// Watchlist is the merged symbol list and where it was read from.
type Watchlist struct {
	Symbols []string
	Source  string
}

const inlineSource = "inline"

// LoadWatchlist merges the inline symbols with the watchlist file. When no file
// is set the newest match of the glob is used. Symbols keep their first-seen order.
func LoadWatchlist(cfg WatchlistConfig) (Watchlist, error) {
	list := schema.NewWatchlist()
	add := func(name string) error {
		_, _, err := list.Add(name)
		return err
	}
	for _, s := range cfg.Symbols {
		if err := add(s); err != nil {
			return Watchlist{}, configErr(err)
		}
	}

	path := cfg.File
	if path == "" && cfg.Glob != "" {
		matches, err := filepath.Glob(cfg.Glob)
		if err != nil {
			return Watchlist{}, configErr(yerrors.Errorf("watchlist glob %q: %v", cfg.Glob, err))
		}
		sort.Strings(matches)
		if len(matches) > 0 {
			path = matches[len(matches)-1]
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Watchlist{}, configErr(yerrors.Errorf("read watchlist %s: %v", path, err))
		}
		symbols, err := ParseWatchlist(path, data)
		if err != nil {
			return Watchlist{}, err
		}
		for _, s := range symbols {
			if err := add(s); err != nil {
				return Watchlist{}, configErr(yerrors.Errorf("watchlist %s: %v", path, err))
			}
		}
	}
	source := inlineSource
	if path != "" {
		source = path
	}
	return Watchlist{Symbols: list.Symbols(), Source: source}, nil
}

// ParseWatchlist reads either a JSON array (of strings or objects with a
// "symbol" key) or plain text with one symbol per line and # comments.
func ParseWatchlist(path string, data []byte) ([]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return parseJSONWatchlist(path, data)
	}
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, field := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
			out = append(out, field)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, configErr(yerrors.Errorf("scan watchlist %s: %v", path, err))
	}
	return out, nil
}

func parseJSONWatchlist(path string, data []byte) ([]string, error) {
	var entries []any
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, configErr(yerrors.Errorf("watchlist %s must be a JSON array: %v", path, err))
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		switch v := e.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			for k, raw := range v {
				if !strings.EqualFold(k, "symbol") {
					continue
				}
				if s, ok := raw.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out, nil
}
