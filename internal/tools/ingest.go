package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/temple/internal/broker"
)

func registerIngestTools(s *server.MCPServer, deps *Deps) {
	s.AddTool(mcp.NewTool("submit_ingest_item",
		mcp.WithDescription("Submit text for asynchronous enrichment: it is stored as a memory and queued for entity/relation extraction. Returns immediately with the job id."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The text to enrich")),
		mcp.WithString("actor_id", mcp.Description("Who the text is about or from; becomes the relation subject")),
		mcp.WithString("item_type", mcp.Description("Kind of submission, e.g. note or transcript (default note)")),
		mcp.WithString("source", mcp.Description("Where the text came from")),
		mcp.WithString("source_id", mcp.Description("External id of the source record")),
		mcp.WithString("scope", mcp.Description("Target scope. Defaults to the active context.")),
		mcp.WithString("idempotency_key", mcp.Description("Resubmitting with the same key returns the prior job instead of a new one")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		content := strArg(args, "content")
		if content == "" {
			return mcp.NewToolResultError("content is required"), nil
		}
		itemType := strArg(args, "item_type")
		if itemType == "" {
			itemType = "note"
		}
		result, err := deps.Broker.SubmitIngestItem(
			itemType, strArg(args, "actor_id"), strArg(args, "source"),
			strArg(args, "source_id"), content, strArg(args, "scope"),
			strArg(args, "idempotency_key"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(result)
	})

	s.AddTool(mcp.NewTool("get_ingest_job",
		mcp.WithDescription("Check the status and counts of an enrichment job."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("The job id returned by submit_ingest_item")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		job, err := deps.Broker.GetIngestJob(strArg(args, "job_id"))
		if err == broker.ErrNotFound {
			return mcp.NewToolResultError("job not found"), nil
		}
		if err != nil {
			return errResult(err)
		}
		return jsonResult(job)
	})

	s.AddTool(mcp.NewTool("list_ingest_jobs",
		mcp.WithDescription("List enrichment jobs, newest first."),
		mcp.WithString("status", mcp.Description("Filter: queued, processing, completed or failed")),
		mcp.WithNumber("limit", mcp.Description("Maximum results")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		jobs := deps.Broker.ListIngestJobs(strArg(args, "status"), intArg(args, "limit"))
		return jsonResult(map[string]any{"jobs": jobs, "count": len(jobs)})
	})

	s.AddTool(mcp.NewTool("list_ingest_reviews",
		mcp.WithDescription("List relation candidates waiting for (or past) human review."),
		mcp.WithString("status", mcp.Description("Filter: pending, approved or rejected")),
		mcp.WithNumber("limit", mcp.Description("Maximum results")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		reviews := deps.Broker.ListReviews(strArg(args, "status"), intArg(args, "limit"))
		return jsonResult(map[string]any{"reviews": reviews, "count": len(reviews)})
	})

	s.AddTool(mcp.NewTool("review_ingest_relation",
		mcp.WithDescription("Approve or reject a pending relation candidate. Approval writes the relation to the graph. Re-deciding a settled review is a no-op."),
		mcp.WithString("review_id", mcp.Required(), mcp.Description("The review id")),
		mcp.WithBoolean("approve", mcp.Required(), mcp.Description("true to commit the relation, false to discard it")),
		mcp.WithString("reviewer", mcp.Description("Who decided")),
		mcp.WithString("notes", mcp.Description("Decision notes")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		review, err := deps.Broker.ReviewIngestRelation(
			strArg(args, "review_id"), boolArg(args, "approve"),
			strArg(args, "reviewer"), strArg(args, "notes"))
		if err == broker.ErrNotFound {
			return mcp.NewToolResultError("review not found"), nil
		}
		if err != nil {
			return errResult(err)
		}
		return jsonResult(review)
	})
}
