package main

import "github.com/racepix/racepix/cmd"

func main() {
	cmd.Execute()
}
