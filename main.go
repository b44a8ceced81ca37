package main

import "cloud-cost-guardian/internal/cli"

func main() {
	cli.Execute()
}
