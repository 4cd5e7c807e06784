// Command ycrawler polls a seed page and crawls every new item it links to.
package main

import (
	"github.com/JakeFAU/ycrawler/cmd"
)

func main() {
	cmd.Execute()
}
