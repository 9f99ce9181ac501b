package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/mlafeldt/xkcd-vk/config"
	"github.com/mlafeldt/xkcd-vk/publisher"
)

// Input is the input passed to the Lambda function.
type Input struct {
	Num int `json:"num"`
}

// Output is the output returned by the Lambda function.
type Output struct {
	*publisher.Result
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, input Input) (*Output, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log.Printf("[DEBUG] config = %s", cfg)

	if input.Num < 0 {
		return nil, fmt.Errorf("input comic number %d is negative", input.Num)
	}

	p, release, err := publisher.New(ctx, cfg)
	defer release()
	if err != nil {
		return nil, err
	}

	res, err := p.Run(ctx, input.Num)
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] Run %s completed", res.RunID)
	return &Output{res}, nil
}

// loadConfig reads the config from the environment. Only the temp dir is
// writable on Lambda, so the scratch dir lives there unless SCRATCH_DIR is set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if os.Getenv("SCRATCH_DIR") == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "images")
	}
	return cfg, nil
}
