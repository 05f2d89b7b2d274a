package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"ProvChain/sdk/go/provchain"
)

// 演示如何通过 SDK 驱动溯源账本：注册模型、登记资产并完成一次转移。
func main() {
	client, err := provchain.NewClient("http://127.0.0.1:8080", nil)
	if err != nil {
		log.Fatalf("创建客户端失败: %v", err)
	}
	// 本地开发模式下服务端关闭了认证，通过开发头声明身份。
	client.SetDevPrincipal("registry-owner")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	model, err := client.RegisterModel(ctx, provchain.RegisterModelRequest{
		ModelID:         "M1",
		Name:            "diffusion attribution",
		Version:         "1.0",
		ConfidenceLevel: 90,
	})
	if err != nil {
		log.Fatalf("注册模型失败: %v", err)
	}
	fmt.Printf("已注册模型 %s (置信度 %d)\n", model.ID, model.ConfidenceLevel)

	record, err := client.RegisterAsset(ctx, provchain.RegisterAssetRequest{
		AssetID:      1,
		ModelID:      "M1",
		InitialScore: 60,
	})
	if err != nil {
		log.Fatalf("登记资产失败: %v", err)
	}
	fmt.Printf("资产 %d 初始所有者 %s，初始分数 %d\n", record.AssetID, record.CurrentOwner, record.AuthenticityScore)

	result, err := client.TransferAsset(ctx, 1, provchain.TransferRequest{
		NewOwner:         "P2",
		Price:            1000,
		VerificationHash: "H1",
	})
	if err != nil {
		log.Fatalf("转移资产失败: %v", err)
	}
	fmt.Printf("转移完成：新所有者 %s，重算分数 %d，转移次数 %d\n",
		result.Record.CurrentOwner, result.Record.AuthenticityScore, result.Record.TransferCount)

	history, err := client.GetHistory(ctx, 1)
	if err != nil {
		log.Fatalf("查询历史失败: %v", err)
	}
	for _, entry := range history {
		fmt.Printf("  #%d %s -> %s 价格 %d 高度 %d\n",
			entry.TransferIndex, entry.FromOwner, entry.ToOwner, entry.Price, entry.Height)
	}
}
