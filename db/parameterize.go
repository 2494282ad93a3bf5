package db

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
)

// ParameterizedSQL is an sql file with its example parameter values replaced by
// sqlx named parameters.
type ParameterizedSQL struct {
	Body       []byte
	Parameters []string
}

// String provides a printable representation.
func (p ParameterizedSQL) String() string {
	return fmt.Sprintf("params: %s\nbody:\n%s", strings.Join(p.Parameters, ", "), p.Body)
}

// valueAtoms are the literal forms a parameter's example value may take.
var valueAtoms = []string{
	`(?:[a-zA-Z_]\w*\([^\)]*\))`, // datetime('now')
	`(?:'[^']*')`,                // 'usmf' or ''
	`(?:-?\d*\.?\d+)`,            // 3 or -0.5
	`(?:null)`,
}

// paramLine matches an example value aliased to a parameter name and marked
// for replacement, such as
//
//	,'usmf' AS DataAreaId    /* @param */
var paramLine = regexp.MustCompile(fmt.Sprintf(
	`(?P<value>%s)(?P<as>\s+AS\s+)(?P<param>[A-Za-z0-9_]+)\s+/\* @param \*/`,
	strings.Join(valueAtoms, "|"),
))

// parameterize lets a runnable sql file double as a prepared statement. Each
// marked line keeps its alias and has its example value swapped for a named
// parameter, so
//
//	,'usmf' AS DataAreaId    /* @param */
//
// becomes
//
//	,:DataAreaId AS DataAreaId
//
// and "DataAreaId" is added to Parameters in file order.
func parameterize(tpl []byte) (*ParameterizedSQL, error) {
	matches := paramLine.FindAllSubmatch(tpl, -1)
	if len(matches) == 0 {
		return nil, errors.New("parameterize: no parameters found")
	}

	idx := paramLine.SubexpIndex("param")
	p := &ParameterizedSQL{Parameters: make([]string, 0, len(matches))}
	for _, m := range matches {
		p.Parameters = append(p.Parameters, string(m[idx]))
	}
	p.Body = paramLine.ReplaceAll(tpl, []byte(`:${param}${as}${param}`))
	return p, nil
}

// ParameterizeFile reads and parameterizes filePath from fileFS.
func ParameterizeFile(fileFS fs.FS, filePath string) (*ParameterizedSQL, error) {
	b, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("file read error: %w", err)
	}
	p, err := parameterize(b)
	if err != nil {
		return nil, fmt.Errorf("query template error: %w", err)
	}
	return p, nil
}
