package main

import "CrewPrizePool/src/cmd"

func main() {
	cmd.Execute()
}
