// Package skein is the embedding surface of the skein runtime. It couples
// the runtime core (src/runtime) with a pluggable compiler (src/code's
// Compiler seam) so hosts can run listings or source text without touching
// the internals.
//
// The runtime core executes compiled prototypes; it never parses text
// itself. The default compiler is the bytecode assembler in src/asm, which
// accepts mnemonic listings. A host with a real language frontend swaps its
// own Compiler in:
//
//	rt := skein.New(ctx, myFrontend)
//	defer rt.Close()
//	res, err := rt.RunFile("script.ska")
//
// Callbacks into the host are plain Go functions registered on the state:
//
//	rt.State().SetGlobal("greet", runtime.Fn("greet", func(t *runtime.Thread, args []any) ([]any, error) {
//		return []any{"hello"}, nil
//	}))
package skein
