// The main package for the scrape-tasks executable.
package main

import "github.com/JakeFAU/scrape-tasks/cmd"

func main() {
	cmd.Execute()
}
