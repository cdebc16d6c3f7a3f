package script

import (
	"github.com/dop251/goja"

	"github.com/nerrad567/sqlbridge/internal/scalar"
)

// bindCall splits call arguments into SQL text and owned parameters.
//
// Argument 0 is the SQL text. Every later argument becomes one positional
// parameter, with null and undefined binding as NULL. The parameter count
// limit is enforced later by sqlexec.Bind.
func (c *codec) bindCall(args []goja.Value) (string, []scalar.Value, error) {
	if len(args) == 0 || goja.IsUndefined(args[0]) || goja.IsNull(args[0]) {
		return "", nil, ErrMissingSQL
	}
	query := args[0].String()

	params := make([]scalar.Value, len(args)-1)
	for i, arg := range args[1:] {
		v, err := c.encode(arg, i+1)
		if err != nil {
			return "", nil, err
		}
		params[i] = v
	}
	return query, params, nil
}
