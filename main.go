package main

import "github.com/frahmantamala/familyguard/cmd"

func main() {
	cmd.Execute()
}
