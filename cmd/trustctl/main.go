package main

import "github.com/santedb/santedb-server-sub007/cmd/trustctl/cmd"

func main() {
	cmd.Execute()
}
