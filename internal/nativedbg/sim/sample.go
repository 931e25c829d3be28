package sim

// The built-in sample debuggee backs `--backend sim` and the doctor
// self-check: a short checkout routine that prints to stdout, emits a
// runtime log, survives a handled exception, and exits cleanly. Everything
// an agent sees on a real stream, in a few statements.

type sampleCart struct {
	owner    string `sim:"_owner"`
	items    int32  `sim:"_items"`
	Subtotal int32
}

// SampleTarget scripts the sample process. The returned function is the
// entry point; its File/Line accessors give callers source positions for
// planting breakpoints.
func SampleTarget() (*Target, *Function) {
	tgt := NewTarget("sampleapp")
	tgt.Module("SampleApp.dll", true)

	fn := tgt.Function("Checkout.Run", "/src/sample/Checkout.cs", 12, 6)
	fn.This(&sampleCart{owner: "dev", items: 3, Subtotal: 240}).
		Local("attempt", int32(1)).
		Local("label", "warmup order").
		Arg("dryRun", false).
		Print(12, "checkout: scanning 3 items").
		Log(13, "price cache warm").
		Throw(14, "System.FormatException", "quantity 'two' is not a number", false).
		Print(15, "checkout: retried with quantity 1")
	tgt.Caller("System.Runtime.Bootstrap.Invoke", "/usr/share/runtime/System.Private.CoreLib.dll", true)

	tgt.Class("Sample.Cart", sampleCart{}).
		Method("Sample.Cart", "get_Summary", func(this any, _ []any) (any, error) {
			return "3 items for dev", nil
		}).
		Method("Sample.Cart", "Total", func(this any, _ []any) (any, error) {
			return int32(240), nil
		})
	return tgt, fn
}
