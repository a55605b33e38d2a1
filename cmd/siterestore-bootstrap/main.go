// SlimRMM SiteRestore - Site Backup Restore Bootstrap
// Copyright (c) 2025 Kiefer Networks
package main

func main() {
	Execute()
}
