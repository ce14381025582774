package main

import "github.com/vietddude/requeue/internal/cli"

func main() {
	cli.Execute()
}
