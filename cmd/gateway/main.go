package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/handler"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/integrations/openai"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/integrations/paramstore"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/repository"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	maxContextItems := envInt("MAX_CONTEXT_ITEMS", 20)
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 2000)

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	params, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		fatal("failed to create conversation store", err)
	}
	llm, err := openai.NewClient(params, paramPrefix)
	if err != nil {
		fatal("failed to create OpenAI client", err)
	}

	chat, err := usecase.NewChatService(params, llm, store, paramPrefix, maxContextItems, maxMessageLen, usecase.WithLogger(logger))
	if err != nil {
		fatal("failed to create chat service", err)
	}
	h, err := handler.NewHandler(chat)
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric environment variable", "key", key, "value", v)
		return def
	}
	return n
}
