package main

import "github.com/ValentinKolb/dSlab/cmd"

func main() {
	cmd.Execute()
}
