package rules

import (
	"context"
	"strings"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/linker"
	"github.com/bufbuild/protocompile/reporter"

	"github.com/platinummonkey/lineage/pkg/schema"
)

const standardImportPrefix = "google/protobuf/"

// compileProto links a single protobuf source against the well-known types.
// Every error is collected so callers can report all of them.
func compileProto(ctx context.Context, src []byte) (linker.File, []reporter.ErrorWithPos, error) {
	var errs []reporter.ErrorWithPos
	rep := reporter.NewReporter(
		func(err reporter.ErrorWithPos) error {
			errs = append(errs, err)
			return nil
		},
		nil,
	)

	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(map[string]string{
				schema.ProtoFilename: string(src),
			}),
		}),
		Reporter: rep,
	}

	files, err := compiler.Compile(ctx, schema.ProtoFilename)
	if err == nil && len(errs) > 0 {
		err = reporter.ErrInvalidSource
	}
	if err != nil {
		return nil, errs, err
	}
	return files[0], nil, nil
}

// protoImports returns the import paths of a protobuf source
func protoImports(src []byte) []string {
	fd, err := schema.ParseProtoFile(src)
	if err != nil {
		return nil
	}
	return fd.GetDependency()
}

// onlyStandardImports reports whether every import is a well-known type file
func onlyStandardImports(imports []string) bool {
	for _, imp := range imports {
		if !strings.HasPrefix(imp, standardImportPrefix) {
			return false
		}
	}
	return true
}

func isProtoImport(ref string) bool {
	return strings.HasSuffix(ref, ".proto")
}
