package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"

	"github.com/salonsano/internal/config"
	"github.com/salonsano/internal/db"
	"github.com/salonsano/internal/imagecodec"
	"github.com/salonsano/internal/service"
	"github.com/salonsano/internal/storage"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// 测试数据生成器：为指定浏览器副本写入演示帖子，直到数量达到或预算耗尽。
// 运行中的服务会在该副本的下一个请求时重新读取存储，无需重启。
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败:", err)
	}

	var (
		replicaID string
		count     int
	)
	flagSet := pflag.NewFlagSet("generate_test_data", pflag.ExitOnError)
	flagSet.StringVar(&replicaID, "replica", "", "replica id from the salonsano_session cookie")
	flagSet.IntVar(&count, "count", 6, "number of demo posts to create")
	flagSet.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	_ = flagSet.Parse(os.Args[1:])
	if replicaID == "" {
		log.Fatal("必须提供 --replica")
	}

	gdb, err := db.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal("数据库初始化失败:", err)
	}
	medium, err := db.NewMedium(gdb, replicaID)
	if err != nil {
		log.Fatal("打开存储失败:", err)
	}

	ws := service.NewWorkspace(replicaID, medium, service.WorkspaceConfig{
		Budget:            cfg.StorageBudget,
		DefaultCredential: cfg.DefaultAdminPassword,
	}, zap.NewNop())

	fmt.Println("开始生成测试数据...")
	created, err := createTestPosts(context.Background(), ws, imagecodec.New(), count)
	if err != nil && !errors.Is(err, storage.ErrCapacityExceeded) {
		log.Fatal("生成帖子失败:", err)
	}
	if errors.Is(err, storage.ErrCapacityExceeded) {
		fmt.Println("存储预算已耗尽，提前结束")
	}

	usage := ws.Store.Usage()
	fmt.Printf("测试数据生成完成！新增帖子: %d，存储: %s / %s\n",
		created, storage.FormatSize(usage.Used), storage.FormatSize(usage.Total()))
}

var demoShapes = []struct {
	width  int
	height int
	alt    string
}{
	{width: 1600, height: 1200, alt: "Keratin treatment result - smooth and shiny hair"},
	{width: 1080, height: 1350, alt: "Before and after hair straightening"},
	{width: 1080, height: 1080, alt: "Deep conditioning session"},
}

// createTestPosts 生成横向、纵向与方形的演示图片并写入帖子，返回成功写入的数量。
func createTestPosts(ctx context.Context, ws *service.Workspace, codec *imagecodec.Codec, count int) (int, error) {
	created := 0
	for i := 0; i < count; i++ {
		shape := demoShapes[i%len(demoShapes)]
		blob, err := demoImage(shape.width, shape.height, i)
		if err != nil {
			return created, err
		}
		result, err := codec.PrepareUpload(ctx, blob)
		if err != nil {
			return created, fmt.Errorf("compress demo image %d: %w", i, err)
		}

		err = ws.Do(func() error {
			_, createErr := ws.Posts.Create(service.PostInput{
				Image: result.DataURL,
				URL:   fmt.Sprintf("https://www.instagram.com/p/demo%d", i+1),
				Alt:   shape.alt,
			})
			return createErr
		})
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func demoImage(width, height, variant int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + variant*40) * 255 / width),
				G: uint8(y * 255 / height),
				B: uint8(120 + variant*25),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
