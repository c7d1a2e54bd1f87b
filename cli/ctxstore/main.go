package main

import (
	"os"

	ctxstorecmder "github.com/papercomputeco/ctxstore/cmd/ctxstore"
)

func main() {
	cmd := ctxstorecmder.NewCtxstoreCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
