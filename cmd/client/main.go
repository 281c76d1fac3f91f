package main

import (
	"flag"
	"fmt"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/palemoky/realtime-chat/internal/client"
	"github.com/palemoky/realtime-chat/internal/config"
	"github.com/palemoky/realtime-chat/internal/logger"
	"github.com/palemoky/realtime-chat/internal/sound"
	"github.com/palemoky/realtime-chat/internal/ui"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	serverAddr := flag.String("server", "", "服务器地址 (host:port)，为空时使用配置中的 endpoint")
	insecure := flag.Bool("insecure", false, "使用 ws:// 而不是 wss://")
	token := flag.String("token", "", "认证 token，为空时以未认证身份聊天")
	name := flag.String("name", "", "昵称")
	soundDir := flag.String("sounds", "assets/sounds", "提示音目录")
	flag.Parse()

	// 界面占用终端，日志写到文件
	if err := logger.Init(); err != nil {
		log.Printf("初始化日志失败: %v", err)
	}
	defer logger.Close()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}

	opts := client.OptionsFromConfig(&cfg.Client)
	switch {
	case *serverAddr != "" && *insecure:
		opts.Endpoint = fmt.Sprintf("ws://%s/ws", *serverAddr)
	case *serverAddr != "":
		opts.Endpoint = client.DefaultEndpoint(*serverAddr)
	}

	conn := client.NewManager(opts)
	defer conn.Disconnect()

	sounds := sound.NewPlayer()
	go func() {
		if err := sounds.Init(*soundDir); err != nil {
			logger.LogWarn("提示音不可用: %v", err)
		}
	}()
	defer sounds.Close()

	model := ui.NewChatModel(conn, sounds, ui.Credentials{Token: *token, Name: *name})
	defer model.Close()

	conn.StartHeartbeat(cfg.Heartbeat.IntervalDuration())

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("启动客户端时出错: %v", err)
	}
}
