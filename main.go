package main

import "github.com/natehak/SteamGroupChatBot/cmd"

func main() {
	cmd.Execute()
}
