package main

import (
	"fmt"
	"log"

	"WorldsDashboard-server/config"
	"WorldsDashboard-server/models"
	"WorldsDashboard-server/routers"
	"WorldsDashboard-server/routers/api"
	"WorldsDashboard-server/service"
)

func main() {
	config.InitConfig()
	fmt.Println("Server starting on port", config.AppConfig.Server.Port)

	// 本地 JSON 存储始终可用；配置了 MySQL 时远端优先、失败降级本地
	local, err := models.NewLocalStore(config.AppConfig.LocalStore.Path)
	if err != nil {
		log.Fatalf("本地存储初始化失败: %v", err)
	}
	var store models.Store = local
	if config.AppConfig.MySQL.DSN != "" {
		models.InitDB()
		fmt.Println("Database initialized")
		store = models.NewFallbackStore(models.NewRemoteStore(models.DB, models.GormDB), local)
	} else {
		log.Println("未配置 MySQL DSN，使用本地 JSON 存储")
	}

	scripts, err := service.NewScriptProvider()
	if err != nil {
		// 没配 OpenAI 也能跑：渲染/刷新/导出不依赖脚本生成
		log.Printf("OpenAI 未配置，脚本生成不可用: %v", err)
		scripts = nil
	}
	speech := service.NewSpeechProvider()
	render := service.NewRenderProvider()
	relay := service.NewRelay()

	pipeline := service.NewPipeline(store, nil, speech, render, relay)
	if scripts != nil {
		pipeline.Script = scripts
	}
	defer pipeline.Shutdown()

	service.InitQueue()
	fmt.Println("Queue initialized")

	processor := service.NewProcessor(pipeline)
	processor.StartProcessor(5)

	// 进程重启后把进行中的渲染任务轮询捞回来
	if n := pipeline.ResumePolling(); n > 0 {
		log.Printf("已恢复 %d 个渲染轮询", n)
	}

	api.Init(store, pipeline, scripts, render)
	r := routers.InitRouter()
	r.Run(config.AppConfig.Server.Port)
}
