package main

import "github.com/yawon3/pocali-backend/cmd"

func main() {
	cmd.Execute()
}
