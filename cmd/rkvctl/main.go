package main

import (
	"os"

	"redicore/internal/rkvctl"
)

func main() {
	code := rkvctl.Execute(os.Args[1:])
	os.Exit(code)
}
