// Command typecore drives the type checker and reference resolver over
// a set of methods built from dex/ir, the way a full optimizer
// pipeline's pass manager would after loading a DEX file and building
// its class hierarchy. DEX I/O, class-hierarchy construction and the
// pass manager are external collaborators, so this command builds a
// small fixture program in-process via dex/fixture instead of parsing a
// real APK, and reports the same per-method diagnostics and aggregate
// counters a production build of this pass would emit.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dextype/typecore/dex/config"
	"github.com/dextype/typecore/dex/fixture"
	"github.com/dextype/typecore/dex/report"
	"github.com/dextype/typecore/dex/resolve"
	"github.com/dextype/typecore/dex/typecheck"
	"github.com/dextype/typecore/version"
)

func main() {
	var (
		configDir       = flag.String("config-dir", ".", "directory to start the upward typecore.conf search from")
		refineExternal  = flag.Bool("refine-to-external", false, "override: allow rebinding refs to external (platform) targets")
		desuperify      = flag.Bool("desuperify", true, "override: rewrite invoke-super to invoke-virtual when the callee is final")
		specializeRtype = flag.Bool("specialize-rtype", false, "override: collect and apply return-type specialization candidates")
		printVersion    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *printVersion {
		version.Print()
		os.Exit(0)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("typecore: loading config: %v", err)
	}
	if isFlagSet("refine-to-external") {
		cfg.Resolver.RefineToExternal = *refineExternal
	}
	if isFlagSet("desuperify") {
		cfg.Resolver.Desuperify = *desuperify
	}
	if isFlagSet("specialize-rtype") {
		cfg.Resolver.SpecializeRtype = *specializeRtype
	}

	prog := fixture.Demo()

	failures := 0
	for _, m := range prog.Methods {
		chk := typecheck.New(m, prog.Hierarchy, typecheck.Options{
			ValidateAccess:       cfg.Checker.ValidateAccess,
			VerifyMoves:          cfg.Checker.VerifyMoves,
			CheckNoOverwriteThis: cfg.Checker.CheckNoOverwriteThis,
		})
		chk.Run()
		if chk.Fail() {
			failures++
			log.Print(report.CheckerError(m, chk.FirstError()))
		}
	}

	r := resolve.New(prog.Hierarchy, prog.MinSDK, resolve.Options{
		RefineToExternal:  cfg.Resolver.RefineToExternal,
		Desuperify:        cfg.Resolver.Desuperify,
		SpecializeRtype:   cfg.Resolver.SpecializeRtype,
		ExcludedExternals: cfg.Resolver.ExcludedExternals,
	})
	stats := r.RunProgram(prog.Methods)
	if cfg.Resolver.SpecializeRtype {
		stats = stats.Add(r.ApplySpecializations(prog.Methods))
	}

	fmt.Println(report.Statsf("method_refs_resolved", stats.MethodRefsResolved))
	fmt.Println(report.Statsf("field_refs_resolved", stats.FieldRefsResolved))
	fmt.Println(report.Statsf("num_invoke_virtual_refined", stats.InvokeVirtualRefined))
	fmt.Println(report.Statsf("num_invoke_interface_replaced", stats.InvokeInterfaceReplaced))
	fmt.Println(report.Statsf("num_invoke_super_removed", stats.InvokeSuperRemoved))
	fmt.Println(report.Statsf("num_rtype_specialization_candidates", stats.RtypeSpecializationCandidates))

	if failures > 0 {
		os.Exit(1)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
