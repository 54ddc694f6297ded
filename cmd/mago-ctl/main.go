package main

import (
	"os"

	_ "github.com/viant/afsc/gs"
	_ "github.com/viant/afsc/s3"
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout))
}
