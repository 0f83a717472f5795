package product

import (
	"context"
	"errors"
	"math"
	"strconv"

	pb "github.com/ogozo/proto-definitions/gen/go/product"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Handler struct {
	pb.UnimplementedProductServiceServer
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) CreateProduct(ctx context.Context, req *pb.CreateProductRequest) (*pb.CreateProductResponse, error) {
	if req.Price < 0 || req.Price != math.Trunc(req.Price) || req.Price >= math.MaxInt64 {
		return nil, status.Errorf(codes.InvalidArgument, "price must be a non-negative whole number, got %v", req.Price)
	}
	created, err := h.service.CreateProduct(ctx, req.Name, int64(req.Price), int64(req.StockQuantity))
	if errors.Is(err, ErrInvalidProduct) {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "could not create product: %v", err)
	}
	return &pb.CreateProductResponse{Product: toProto(created)}, nil
}

func (h *Handler) GetProduct(ctx context.Context, req *pb.GetProductRequest) (*pb.GetProductResponse, error) {
	id, err := strconv.ParseInt(req.ProductId, 10, 64)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid product id %q", req.ProductId)
	}

	p, err := h.service.GetProduct(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, status.Errorf(codes.NotFound, "product not found: %v", err)
	case errors.Is(err, ErrInvalidID):
		return nil, status.Errorf(codes.InvalidArgument, "invalid product id %q", req.ProductId)
	case err != nil:
		return nil, status.Errorf(codes.Internal, "could not get product: %v", err)
	}
	return &pb.GetProductResponse{Product: toProto(p)}, nil
}

func toProto(p *Product) *pb.Product {
	return &pb.Product{
		Id:            strconv.FormatInt(p.ID, 10),
		Name:          p.Name,
		Price:         float64(p.Price),
		StockQuantity: int32(min(p.Qty, math.MaxInt32)),
	}
}
