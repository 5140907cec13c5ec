package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/docchat/doc-chat/access"
	"github.com/docchat/doc-chat/api"
	"github.com/docchat/doc-chat/catalog"
	"github.com/docchat/doc-chat/chat"
	"github.com/docchat/doc-chat/config"
	"github.com/docchat/doc-chat/database"
	"github.com/docchat/doc-chat/embeddings"
	"github.com/docchat/doc-chat/ingestion"
	"github.com/docchat/doc-chat/llm"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "chat":
		chatCmd(cfg, logger, os.Args[2:])
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "docs":
		docsCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func ingestCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	docsDir := flags.String("dir", cfg.DocsDir, "path to directory containing pdf documents")
	accessFile := flags.String("access", cfg.AccessFile, "path to the access registry file")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ingest flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry, err := access.Load(*accessFile)
	if err != nil {
		logger.Fatalf("access registry: %v", err)
	}

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	svc := ingestion.NewService(pgPool, neo4jDriver, embedder, registry, logger, cfg.Embeddings.Dimension)
	logger.Printf("ingesting pdfs from %s using %s/%s embeddings", *docsDir, strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model)

	if err := svc.IngestDirectory(ctx, *docsDir); err != nil {
		logger.Fatalf("ingestion failed: %v", err)
	}
}

func chatCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	email := flags.String("email", "", "login email")
	document := flags.String("document", "", "document to chat about")
	limit := flags.Int("limit", 5, "number of context chunks to retrieve")
	accessFile := flags.String("access", cfg.AccessFile, "path to the access registry file")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse chat flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry, err := access.Load(*accessFile)
	if err != nil {
		logger.Fatalf("access registry: %v", err)
	}

	scanner := bufio.NewScanner(os.Stdin)

	if strings.TrimSpace(*email) == "" {
		fmt.Print("Enter your email address: ")
		if scanner.Scan() {
			*email = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read email: %v", err)
		}
	}

	session, err := chat.NewSession(registry, strings.TrimSpace(*email))
	if err != nil {
		logger.Fatalf("login failed: %v", err)
	}
	if len(session.Documents) == 0 {
		fmt.Println("No documents available for your account.")
		return
	}

	if strings.TrimSpace(*document) == "" {
		*document = pickDocument(scanner, session.Documents)
	}
	if err := session.SelectDocument(strings.TrimSpace(*document)); err != nil {
		logger.Fatalf("select document: %v", err)
	}
	fmt.Printf("Selected document: %s\n", session.Document())

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	svc := chat.NewService(
		chat.NewPostgresRetriever(pgPool),
		catalog.NewStore(neo4jDriver),
		embedder,
		llmClient,
		logger,
	)

	fmt.Println("Ask a question, /select to switch documents, or /quit to exit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		if line == "/select" {
			doc := pickDocument(scanner, session.Documents)
			if err := session.SelectDocument(doc); err != nil {
				fmt.Printf("select document: %v\n", err)
				continue
			}
			fmt.Printf("Selected document: %s\n", session.Document())
			continue
		}

		resp, err := svc.Ask(ctx, session, line, chat.Options{SimilarityLimit: *limit})
		if err != nil {
			fmt.Printf("answer unavailable: %v\n", err)
			continue
		}

		fmt.Println(resp.Answer)
		if len(resp.Sources) > 0 {
			fmt.Println()
			fmt.Println("Sources:")
			for idx, source := range resp.Sources {
				fmt.Printf("%d. %s (score %.2f)\n", idx+1, source.Document, source.Score)
				if source.ChunkCount > 0 {
					fmt.Printf("   Indexed chunks: %d (%d tables)\n", source.ChunkCount, source.TableCount)
				}
			}
		}
		fmt.Println()
	}
	if err := scanner.Err(); err != nil {
		logger.Fatalf("read question: %v", err)
	}
}

func pickDocument(scanner *bufio.Scanner, documents []string) string {
	fmt.Println("Available documents:")
	for idx, doc := range documents {
		fmt.Printf("%d. %s\n", idx+1, doc)
	}
	fmt.Print("Select a document (number or name): ")
	if !scanner.Scan() {
		return ""
	}
	choice := strings.TrimSpace(scanner.Text())
	if idx, err := strconv.Atoi(choice); err == nil && idx >= 1 && idx <= len(documents) {
		return documents[idx-1]
	}
	return choice
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "listen address")
	accessFile := flags.String("access", cfg.AccessFile, "path to the access registry file")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry, err := access.Load(*accessFile)
	if err != nil {
		logger.Fatalf("access registry: %v", err)
	}

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		logger.Fatalf("embedder setup: %v", err)
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	svc := chat.NewService(
		chat.NewPostgresRetriever(pgPool),
		catalog.NewStore(neo4jDriver),
		embedder,
		llmClient,
		logger,
	)

	server := &http.Server{
		Addr:    *addr,
		Handler: api.New(registry, svc, logger),
	}

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("serve: %v", err)
	}
}

func docsCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("docs", flag.ExitOnError)
	email := flags.String("email", "", "list documents for this user")
	accessFile := flags.String("access", cfg.AccessFile, "path to the access registry file")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse docs flags: %v", err)
	}

	if strings.TrimSpace(*email) == "" {
		logger.Fatal("the --email flag is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry, err := access.Load(*accessFile)
	if err != nil {
		logger.Fatalf("access registry: %v", err)
	}

	documents, err := registry.AuthorizedDocuments(strings.TrimSpace(*email))
	if err != nil {
		logger.Fatalf("lookup user: %v", err)
	}
	if len(documents) == 0 {
		fmt.Println("No documents available for this account.")
		return
	}

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	insights, err := catalog.NewStore(neo4jDriver).DocumentInsights(ctx, documents)
	if err != nil {
		logger.Printf("catalog insights: %v", err)
		insights = map[string]catalog.Insight{}
	}

	for _, doc := range documents {
		if insight, ok := insights[doc]; ok {
			fmt.Printf("%s  (%d chunks, %d tables, shared with %d users)\n", doc, insight.ChunkCount, insight.TableCount, len(insight.Users))
		} else {
			fmt.Printf("%s  (not ingested)\n", doc)
		}
	}
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Print("This will permanently delete the chunk index and the document catalog. Continue? [y/N]: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	if err := database.DropAll(ctx, pgPool); err != nil {
		logger.Fatalf("drop chunk tables: %v", err)
	}
	logger.Println("dropped doc_chunks index")

	neo4jDriver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatalf("neo4j connection: %v", err)
	}
	defer neo4jDriver.Close(ctx)

	if err := catalog.Purge(ctx, neo4jDriver); err != nil {
		logger.Fatalf("clear catalog: %v", err)
	}
	logger.Println("document catalog cleared")
}

func printUsage() {
	fmt.Println("Usage: doc-chat <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  ingest   Rebuild the chunk index from a directory of PDFs (use --dir to override)")
	fmt.Println("  chat     Log in and ask questions about an authorized document")
	fmt.Println("  serve    Expose login/select/ask over HTTP")
	fmt.Println("  docs     List a user's authorized documents with catalog stats")
	fmt.Println("  clear    Remove the chunk index and document catalog")
}
