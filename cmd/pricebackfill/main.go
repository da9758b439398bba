package main

import "price-history-backfill/internal/cli"

func main() {
	cli.Execute()
}
