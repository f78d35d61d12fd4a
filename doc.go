// Package nativebind vendors one pinned revision of a native C++ library,
// compiles it into a static archive and generates a cgo binding for its
// public surface.
//
// # Stages
//
// A run goes through these stages, each gating the next:
//   - fetch - resolve the pin and check out exactly that commit
//   - configure - run the upstream configure tool for generated headers
//   - collect - list the compilation units
//   - compile - probe flags, compile in parallel, archive deterministically
//   - extract - read clang's JSON AST, apply the symbol policy, render Go
//   - patch - apply named AST rewrites to the generated file
//   - publish - move the archive and binding into place
//
// The staging root is removed after every run that created it, whether the
// run succeeded or not.
//
// # Basic Usage
//
//	config, err := nativebind.LoadConfig("seal.toml")
//	if err != nil {
//	    return err
//	}
//	if err := config.Validate(); err != nil {
//	    return err
//	}
//
//	result := nativebind.NewPipeline(config).Run(ctx)
//	if !result.Success() {
//	    return result.Error
//	}
//
// # Architecture
//
//	Pipeline
//	├── Fetcher (git, GitHub API)
//	├── Configurator (cmake or any configure command)
//	├── Collector
//	├── CompilerDriver (c++, ar)
//	├── Extractor (clang++ -ast-dump=json, layout probe)
//	├── Patcher (go/ast rewrites)
//	├── Publisher
//	└── Cleaner (finalizer)
//
// # Symbol Policy
//
// Only names matching an allow pattern are bound. Names matching an opaque
// pattern, and allowed template instantiations, cross the boundary as
// fixed-size blobs. Anything else never appears in the generated file:
// records that hold such a type demote to opaque, functions that take one by
// value are skipped and pointers to one become unsafe.Pointer.
//
// # Requirements
//
// Requires Go 1.25 or later, git, a C++ compiler, ar and clang++.
package nativebind
