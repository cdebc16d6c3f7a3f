// Package scalar defines the closed set of typed values exchanged with
// SQLite: Null, Integer, Real, Text and Blob.
//
// Every result cell read from the database decodes to exactly one of these
// kinds, and every kind encodes to exactly one bind argument. Conversions in
// this package are pure and perform no database I/O.
//
// # Usage
//
//	v, err := scalar.FromDriver(cell) // cell scanned into an `any`
//	if err != nil {
//	    return err // scalar.ErrUndecodable
//	}
//	args = append(args, v.Arg())
package scalar
