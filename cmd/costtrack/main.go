// Command costtrack maintains monthly price estimates for the scopes of a
// cloud ownership tree.
package main

func main() {
	Execute()
}
