package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/animal-explorer/server/internal/explorer/graph/nodes"
	"github.com/animal-explorer/server/internal/explorer/graph/observers"
	"github.com/animal-explorer/server/internal/explorer/model"
	logx "github.com/animal-explorer/server/pkg/logger"
)

const graphName = "AnimalResearch"

// Runner executes one research run for a session.
type Runner interface {
	Invoke(ctx context.Context, in model.PipelineInput) (model.PipelineOutput, error)
}

// Config holds all dependencies needed to build the research graph.
type Config struct {
	Info     model.InfoProvider
	Image    model.ImageProvider
	Progress nodes.Progress
	Results  nodes.ResultStore
}

// GraphBuilder handles the construction of the research graph
type GraphBuilder struct {
	config *Config
	graph  *compose.Graph[model.PipelineInput, model.PipelineOutput]
}

type graphRunner struct {
	runnable compose.Runnable[model.PipelineInput, model.PipelineOutput]
}

func (r *graphRunner) Invoke(ctx context.Context, in model.PipelineInput) (model.PipelineOutput, error) {
	return r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
}

// BuildResearchGraph builds and compiles the graph and returns a Runner.
func BuildResearchGraph(ctx context.Context, cfg Config) (Runner, error) {
	runnable, err := BuildGraph(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	logx.Debug().Msg("Research graph built successfully")
	return &graphRunner{runnable: runnable}, nil
}

// BuildGraph constructs and returns the compiled research graph
func BuildGraph(ctx context.Context, config *Config) (compose.Runnable[model.PipelineInput, model.PipelineOutput], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Info == nil || config.Image == nil {
		return nil, fmt.Errorf("providers are not properly initialized")
	}
	if config.Progress == nil {
		return nil, fmt.Errorf("progress tracker is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.PipelineInput, model.PipelineOutput](
			compose.WithGenLocalState(func(ctx context.Context) *model.PipelineState {
				return &model.PipelineState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	cfg := b.config
	adds := []struct {
		name string
		add  func() error
	}{
		{nodes.NodeValidate, func() error {
			return b.graph.AddLambdaNode(nodes.NodeValidate,
				nodes.NewValidateNode(cfg.Progress),
				compose.WithStatePreHandler(nodes.NewValidatePreHandler()),
			)
		}},
		{nodes.NodeFetchInfo, func() error {
			return b.graph.AddLambdaNode(nodes.NodeFetchInfo,
				nodes.NewFetchInfoNode(cfg.Progress, cfg.Info),
				compose.WithStatePostHandler(nodes.NewFetchInfoPostHandler()),
			)
		}},
		{nodes.NodeInvalidAnimal, func() error {
			return b.graph.AddLambdaNode(nodes.NodeInvalidAnimal, nodes.NewInvalidAnimalNode(cfg.Progress))
		}},
		{nodes.NodeGenerateImage, func() error {
			return b.graph.AddLambdaNode(nodes.NodeGenerateImage,
				nodes.NewGenerateImageNode(cfg.Progress, cfg.Image),
				compose.WithStatePostHandler(nodes.NewGenerateImagePostHandler()),
			)
		}},
		{nodes.NodePersist, func() error {
			return b.graph.AddLambdaNode(nodes.NodePersist, nodes.NewPersistNode(cfg.Progress, cfg.Results))
		}},
	}

	for _, n := range adds {
		if err := n.add(); err != nil {
			logx.Error().Err(err).Str("node", n.name).Msg("Error adding node")
			return fmt.Errorf("error adding node %s: %w", n.name, err)
		}
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeValidate},
		{nodes.NodeValidate, nodes.NodeFetchInfo},
		{nodes.NodeInvalidAnimal, compose.END},
		{nodes.NodeGenerateImage, nodes.NodePersist},
		{nodes.NodePersist, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	animalBranch := compose.NewGraphBranch(
		nodes.NewInvalidAnimalCondition(),
		map[string]bool{
			nodes.NodeInvalidAnimal: true,
			nodes.NodeGenerateImage: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeFetchInfo, animalBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding animal branch")
		return fmt.Errorf("error adding animal branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.PipelineInput, model.PipelineOutput], error) {
	// The graph is acyclic; five nodes plus START and END.
	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName(graphName),
		compose.WithMaxRunSteps(10),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
