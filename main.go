/*
Copyright 2023 Markus Papenbrock
*/
package main

import "github.com/mpapenbr/racestate-live/cmd"

func main() {
	cmd.Execute()
}
